package proof

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/internal/observability/metrics"
	"ZKCipherAI/pkg/logger"
)

// Engine turns subjects into immutable proof handles. It consults the proof
// cache first; a hit short-circuits generation entirely, and concurrent
// identical requests collapse into a single computation.
type Engine struct {
	registry *Registry
	cache    *ProofCache
	log      *slog.Logger
	now      func() time.Time
	newNonce func() string
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithClock injects the time source, letting tests freeze the clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithNonceSource injects the witness nonce source.
func WithNonceSource(source func() string) EngineOption {
	return func(e *Engine) {
		if source != nil {
			e.newNonce = source
		}
	}
}

// WithEngineLogger overrides the engine logger.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine builds an engine over the given circuit registry and proof cache.
func NewEngine(registry *Registry, cache *ProofCache, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		cache:    cache,
		log:      logger.Named("proof.engine"),
		now:      time.Now,
		newNonce: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Registry exposes the circuit table the engine was built with.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Generate produces the proof handle attesting that subject satisfies the
// named circuit. Identical (subject, circuit, options) inputs yield an
// identical proof hash.
func (e *Engine) Generate(ctx context.Context, subject Subject, circuitID string, opts GenerateOptions) (*Handle, error) {
	if e.registry == nil || e.cache == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "proof engine not initialised")
	}

	desc, err := e.registry.Resolve(circuitID)
	if err != nil {
		return nil, err
	}
	subjectFP, canonical, err := fingerprintSubject(subject)
	if err != nil {
		return nil, err
	}

	key := cacheKey(subjectFP, circuitID, opts.fingerprint())
	handle, hit, err := e.cache.GetOrCompute(ctx, key, func() (*Handle, error) {
		return e.build(subject, desc, subjectFP, canonical, opts)
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveGeneration(circuitID, hit, time.Duration(handle.GenerationDurationMs)*time.Millisecond)
	return handle, nil
}

func (e *Engine) build(subject Subject, desc Descriptor, subjectFP string, canonical []byte, opts GenerateOptions) (*Handle, error) {
	start := e.now()

	payload := canonical
	compressed := false
	if !opts.DisableCompression {
		payload = snappy.Encode(nil, canonical)
		compressed = true
	}
	ratio := 1.0
	if compressed && len(payload) > 0 {
		ratio = float64(len(canonical)) / float64(len(payload))
	}

	signals := desc.Extract(subject, subjectFP)
	optionsFP := opts.fingerprint()
	proofHash := computeProofHash(desc.CircuitID, subjectFP, optionsFP, desc.ComplexityWeight)

	blob, err := encodeBlob(blobEnvelope{
		CircuitID:          desc.CircuitID,
		SubjectFingerprint: subjectFP,
		OptionsFingerprint: optionsFP,
		ComplexityWeight:   desc.ComplexityWeight,
		Nonce:              e.newNonce(),
		IssuedAt:           start.UnixMilli(),
		Compressed:         compressed,
		Payload:            payload,
	})
	if err != nil {
		return nil, err
	}

	durationMs := e.now().Sub(start).Milliseconds()
	if durationMs <= 0 {
		durationMs = 1
	}

	handle := &Handle{
		ProofHash:            proofHash,
		CircuitID:            desc.CircuitID,
		PublicSignals:        signals,
		Blob:                 blob,
		CreatedAt:            start.UnixMilli(),
		GenerationDurationMs: durationMs,
		CompressionRatio:     ratio,
	}
	if err := selfCheck(handle); err != nil {
		return nil, err
	}

	logger.Audit().Info("proof issued",
		slog.String("proof_hash", handle.ProofHash),
		slog.String("circuit_id", handle.CircuitID),
		slog.Int64("generation_ms", handle.GenerationDurationMs),
	)
	return handle, nil
}

// selfCheck guards the engine exit: a malformed handle must never leave it.
func selfCheck(handle *Handle) error {
	switch {
	case !proofHashPattern.MatchString(handle.ProofHash):
		return xerrors.Wrap(CodeInternalConsistency, ErrInternalConsistency, "proof hash has invalid format")
	case len(handle.Blob) == 0:
		return xerrors.Wrap(CodeInternalConsistency, ErrInternalConsistency, "serialized blob is empty")
	case len(handle.PublicSignals) == 0:
		return xerrors.Wrap(CodeInternalConsistency, ErrInternalConsistency, "public signals are empty")
	default:
		return nil
	}
}
