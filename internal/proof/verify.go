package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/internal/observability/metrics"
	"ZKCipherAI/pkg/logger"
)

// Criterion names one verification check.
type Criterion string

const (
	CriterionStructural  Criterion = "structural"
	CriterionFingerprint Criterion = "fingerprintConsistency"
	CriterionCircuit     Criterion = "circuitConsistency"
	CriterionTemporal    Criterion = "temporal"
	CriterionOnChain     Criterion = "onChain"
)

// Temporal acceptance window.
const (
	maxProofAge       = 7 * 24 * time.Hour
	maxGenerationMs   = 30000
	onChainScoreBonus = 0.10
)

// Outcome is the immutable, structured result of a verification. Failed
// verifications still produce an outcome with the error recorded, so batch
// and chain scans always assemble a complete report.
type Outcome struct {
	Verified     bool               `json:"verified"`
	TrustScore   float64            `json:"trust_score"`
	PerCriterion map[Criterion]bool `json:"per_criterion"`
	VerifiedAt   int64              `json:"verified_at_ms"`
	Error        string             `json:"error,omitempty"`
}

// AnchorChecker is the ledger-facing collaborator consulted by the optional
// on-chain criterion. Implementations are expected to be slow and fallible.
type AnchorChecker interface {
	IsAnchored(ctx context.Context, proofHash string) (bool, error)
}

type criterionEntry struct {
	name      Criterion
	weight    float64
	mandatory bool
	check     func(ctx context.Context, h *Handle) (bool, error)
}

// Verifier runs independent criterion checks over a handle and folds them
// into a weighted trust score and verdict. Outcomes are memoized per
// (proofHash, options) with request coalescing.
type Verifier struct {
	registry *Registry
	cache    *VerificationCache
	anchors  AnchorChecker
	log      *slog.Logger
	now      func() time.Time
	criteria []criterionEntry
}

// VerifierOption configures optional verifier collaborators.
type VerifierOption func(*Verifier)

// WithAnchorChecker wires the ledger collaborator used by the on-chain
// criterion. Without it the criterion reports false.
func WithAnchorChecker(anchors AnchorChecker) VerifierOption {
	return func(v *Verifier) {
		v.anchors = anchors
	}
}

// WithVerifierClock injects the time source.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithVerifierLogger overrides the verifier logger.
func WithVerifierLogger(log *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// NewVerifier builds a verifier over the circuit registry and outcome cache.
func NewVerifier(registry *Registry, cache *VerificationCache, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		registry: registry,
		cache:    cache,
		log:      logger.Named("proof.verifier"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	// The criterion table is data, not branching: order and weights are the
	// published scoring contract.
	v.criteria = []criterionEntry{
		{name: CriterionStructural, weight: 0.25, mandatory: true, check: v.checkStructural},
		{name: CriterionFingerprint, weight: 0.35, mandatory: true, check: v.checkFingerprint},
		{name: CriterionCircuit, weight: 0.25, mandatory: true, check: v.checkCircuit},
		{name: CriterionTemporal, weight: 0.15, mandatory: true, check: v.checkTemporal},
	}
	return v
}

// Verify evaluates the handle against every mandatory criterion, plus the
// on-chain criterion when requested. It returns an error only when the
// timeout fires before a single criterion resolves; every other failure mode
// is reported inside the outcome.
func (v *Verifier) Verify(ctx context.Context, proof *Handle, opts VerifyOptions) (*Outcome, error) {
	if v.registry == nil || v.cache == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "verifier not initialised")
	}
	if proof == nil {
		return &Outcome{
			Verified:     false,
			PerCriterion: map[Criterion]bool{},
			VerifiedAt:   v.now().UnixMilli(),
			Error:        "no proof supplied",
		}, nil
	}

	key := cacheKey(proof.ProofHash, opts.fingerprint())
	outcome, hit, err := v.cache.GetOrCompute(ctx, key, func() (*Outcome, error) {
		return v.evaluate(ctx, proof, opts)
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveVerification(proof.CircuitID, outcome.Verified, hit)
	return outcome, nil
}

func (v *Verifier) evaluate(ctx context.Context, proof *Handle, opts VerifyOptions) (*Outcome, error) {
	entries := v.criteria
	if opts.CheckOnChain {
		entries = append(append([]criterionEntry{}, entries...), criterionEntry{
			name:      CriterionOnChain,
			weight:    onChainScoreBonus,
			mandatory: false,
			check:     v.checkOnChain,
		})
	}

	fanCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	type result struct {
		name Criterion
		pass bool
		err  error
	}
	ch := make(chan result, len(entries))
	for _, entry := range entries {
		entry := entry
		go func() {
			pass, err := entry.check(fanCtx, proof)
			ch <- result{name: entry.name, pass: pass && err == nil, err: err}
		}()
	}

	// Join against the timer: unresolved criteria count as failed.
	resolved := make(map[Criterion]bool, len(entries))
	var failures []string
	for range entries {
		select {
		case res := <-ch:
			resolved[res.name] = res.pass
			if res.err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", res.name, res.err))
			}
		case <-fanCtx.Done():
		}
		if fanCtx.Err() != nil {
			break
		}
	}
	if len(resolved) == 0 {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, ErrVerificationTimeout,
			fmt.Sprintf("no criterion resolved for %s within %s", proof.ProofHash, opts.timeout()))
	}

	perCriterion := make(map[Criterion]bool, len(entries))
	score := 0.0
	mandatoryAllPass := true
	for _, entry := range entries {
		pass, ok := resolved[entry.name]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: unresolved at timeout", entry.name))
			pass = false
		}
		perCriterion[entry.name] = pass
		if pass {
			score += entry.weight
		}
		if entry.mandatory && !pass {
			mandatoryAllPass = false
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	threshold := opts.threshold()
	verified := score >= threshold
	if opts.Strict {
		verified = verified && mandatoryAllPass
	}

	outcome := &Outcome{
		Verified:     verified,
		TrustScore:   score,
		PerCriterion: perCriterion,
		VerifiedAt:   v.now().UnixMilli(),
	}
	if len(failures) > 0 {
		sort.Strings(failures)
		outcome.Error = strings.Join(failures, "; ")
	}

	logger.Audit().Info("proof verified",
		slog.String("proof_hash", proof.ProofHash),
		slog.Bool("verified", outcome.Verified),
		slog.Float64("trust_score", outcome.TrustScore),
	)
	return outcome, nil
}

func (v *Verifier) checkStructural(_ context.Context, h *Handle) (bool, error) {
	switch {
	case !proofHashPattern.MatchString(h.ProofHash):
		return false, nil
	case h.CircuitID == "":
		return false, nil
	case len(h.PublicSignals) == 0:
		return false, nil
	case len(h.Blob) == 0:
		return false, nil
	case h.CreatedAt <= 0 || h.CreatedAt > v.now().UnixMilli():
		return false, nil
	default:
		return true, nil
	}
}

// checkFingerprint recomputes the internal fingerprint from the decoded blob
// and compares it against the handle. It catches tampering and format
// corruption, not computational forgery.
func (v *Verifier) checkFingerprint(_ context.Context, h *Handle) (bool, error) {
	env, err := decodeBlob(h.Blob)
	if err != nil {
		return false, err
	}
	if env.recomputeHash() != h.ProofHash {
		return false, nil
	}
	payload, err := env.subjectPayload()
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]) == env.SubjectFingerprint, nil
}

func (v *Verifier) checkCircuit(_ context.Context, h *Handle) (bool, error) {
	desc, err := v.registry.Resolve(h.CircuitID)
	if err != nil {
		return false, nil
	}
	if len(h.PublicSignals) != len(desc.RequiredSignalKeys) {
		return false, nil
	}
	for _, key := range desc.RequiredSignalKeys {
		if _, ok := h.PublicSignals[key]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (v *Verifier) checkTemporal(_ context.Context, h *Handle) (bool, error) {
	nowMs := v.now().UnixMilli()
	switch {
	case h.CreatedAt > nowMs:
		return false, nil
	case nowMs-h.CreatedAt > maxProofAge.Milliseconds():
		return false, nil
	case h.GenerationDurationMs <= 0 || h.GenerationDurationMs > maxGenerationMs:
		return false, nil
	default:
		return true, nil
	}
}

func (v *Verifier) checkOnChain(ctx context.Context, h *Handle) (bool, error) {
	if v.anchors == nil {
		return false, nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, DefaultAnchorCheckTimeout)
	defer cancel()
	anchored, err := v.anchors.IsAnchored(checkCtx, h.ProofHash)
	if err != nil {
		return false, err
	}
	return anchored, nil
}
