package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/internal/ledger"
	"ZKCipherAI/internal/proof"
	"ZKCipherAI/internal/proofjob"
	"ZKCipherAI/internal/storage/mysql"
	"ZKCipherAI/pkg/logger"
)

// Pipeline coordinates the proof engine, batch coordinator, composer and
// verifiers behind one façade, and wires in the durable archive and the
// anchor ledger. It is the business core of the system.
type Pipeline struct {
	engine      *proof.Engine
	coordinator *proof.Coordinator
	composer    *proof.Composer
	verifier    *proof.Verifier
	consensus   *proof.ConsensusVerifier
	chains      *proof.ChainChecker
	anchor      ledger.Client
	archive     mysql.ProofArchive

	confirmInterval time.Duration
	confirmAttempts int
	trustThreshold  float64
	log             *slog.Logger
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithAnchorLedger wires the anchor ledger. Without it, anchor requests
// fail and the on-chain verification criterion scores zero.
func WithAnchorLedger(client ledger.Client) Option {
	return func(p *Pipeline) {
		p.anchor = client
	}
}

// WithArchive wires the durable proof archive.
func WithArchive(archive mysql.ProofArchive) Option {
	return func(p *Pipeline) {
		p.archive = archive
	}
}

// WithConfirmPolicy sets the anchor confirmation poll interval and budget.
func WithConfirmPolicy(interval time.Duration, attempts int) Option {
	return func(p *Pipeline) {
		if interval > 0 {
			p.confirmInterval = interval
		}
		if attempts > 0 {
			p.confirmAttempts = attempts
		}
	}
}

// WithTrustThreshold sets the verdict gate used when executing queued jobs.
// Zero keeps the verifier default.
func WithTrustThreshold(threshold float64) Option {
	return func(p *Pipeline) {
		if threshold > 0 && threshold <= 1 {
			p.trustThreshold = threshold
		}
	}
}

// WithLogger overrides the pipeline logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New assembles a pipeline around the given engine and verifier.
func New(engine *proof.Engine, verifier *proof.Verifier, coordinator *proof.Coordinator, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine:          engine,
		coordinator:     coordinator,
		composer:        proof.NewComposer(engine),
		verifier:        verifier,
		consensus:       proof.NewConsensusVerifier(verifier),
		chains:          proof.NewChainChecker(verifier),
		confirmInterval: 2 * time.Second,
		confirmAttempts: 10,
		log:             logger.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// AnchorChecker exposes the ledger in the shape the verifier consumes, or
// nil when no ledger is wired.
func (p *Pipeline) AnchorChecker() proof.AnchorChecker {
	if p.anchor == nil {
		return nil
	}
	return anchorAdapter{client: p.anchor}
}

// NewAnchorChecker adapts a ledger client to the verifier's anchor
// interface. Useful when the verifier is built before the pipeline.
func NewAnchorChecker(client ledger.Client) proof.AnchorChecker {
	if client == nil {
		return nil
	}
	return anchorAdapter{client: client}
}

type anchorAdapter struct {
	client ledger.Client
}

func (a anchorAdapter) IsAnchored(ctx context.Context, proofHash string) (bool, error) {
	status, err := a.client.IsAnchored(ctx, proofHash)
	if err != nil {
		return false, err
	}
	return status.OnChain, nil
}

// Generate issues a proof and archives it.
func (p *Pipeline) Generate(ctx context.Context, subject proof.Subject, circuitID string, opts proof.GenerateOptions) (*proof.Handle, error) {
	if p.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "proof engine not configured")
	}
	var handle *proof.Handle
	var err error
	if opts.Batched && p.coordinator != nil {
		handle, err = p.coordinator.Enqueue(ctx, subject, circuitID, opts)
	} else {
		handle, err = p.engine.Generate(ctx, subject, circuitID, opts)
	}
	if err != nil {
		return nil, err
	}
	if err := p.archiveProof(ctx, handle, "", 0); err != nil {
		return nil, err
	}
	return handle, nil
}

// GenerateBatch issues proofs for up to the batch cap of subjects and
// archives each success plus the aggregate.
func (p *Pipeline) GenerateBatch(ctx context.Context, subjects []proof.Subject, circuitID string, opts proof.GenerateOptions) (*proof.BatchResult, error) {
	if p.coordinator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "batch coordinator not configured")
	}
	result, err := p.coordinator.GenerateBatch(ctx, subjects, circuitID, opts)
	if err != nil {
		return nil, err
	}
	for _, handle := range result.Proofs {
		if err := p.archiveProof(ctx, handle, "", 0); err != nil {
			return nil, err
		}
	}
	if result.AggregateProofHandle != nil {
		if err := p.archiveProof(ctx, result.AggregateProofHandle, "", 0); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Compose folds existing proofs into a recursive composite and archives it.
func (p *Pipeline) Compose(ctx context.Context, proofs []*proof.Handle, sourceCircuitID string) (*proof.CompositeHandle, error) {
	if p.composer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "composer not configured")
	}
	composite, err := p.composer.Compose(ctx, proofs, sourceCircuitID)
	if err != nil {
		return nil, err
	}
	if err := p.archiveProof(ctx, &composite.Handle, "", 0); err != nil {
		return nil, err
	}
	return composite, nil
}

// Verify scores a proof handle. The outcome is appended to the archive's
// verification log on a best effort basis.
func (p *Pipeline) Verify(ctx context.Context, handle *proof.Handle, opts proof.VerifyOptions) (*proof.Outcome, error) {
	if p.verifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "verifier not configured")
	}
	outcome, err := p.verifier.Verify(ctx, handle, opts)
	if err != nil {
		return nil, err
	}
	p.logVerification(ctx, handle, outcome)
	return outcome, nil
}

// VerifyWithConsensus runs a quorum verification across validator ids.
func (p *Pipeline) VerifyWithConsensus(ctx context.Context, handle *proof.Handle, validatorIDs []string, opts proof.VerifyOptions) (*proof.ConsensusResult, error) {
	if p.consensus == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "consensus verifier not configured")
	}
	return p.consensus.VerifyWithConsensus(ctx, handle, validatorIDs, opts)
}

// VerifyChain scans a linked proof sequence and reports every broken link.
func (p *Pipeline) VerifyChain(ctx context.Context, links []proof.ChainLink, opts proof.VerifyOptions) (*proof.ChainReport, error) {
	if p.chains == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "chain checker not configured")
	}
	return p.chains.VerifyChain(ctx, links, opts)
}

// Anchor records the proof hash on the ledger and waits for confirmation
// within the configured poll budget.
func (p *Pipeline) Anchor(ctx context.Context, handle *proof.Handle) (*ledger.AnchorReceipt, error) {
	if p.anchor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "anchor ledger not configured")
	}
	receipt, err := p.anchor.SubmitAnchor(ctx, handle.ProofHash, handle.CircuitID, handle.PublicSignals)
	if err != nil {
		return nil, err
	}
	if err := ledger.WaitForConfirmation(ctx, p.anchor, receipt.TxID, p.confirmInterval, p.confirmAttempts); err != nil {
		return nil, err
	}
	if receipt.Slot == 0 {
		if status, statusErr := p.anchor.IsAnchored(ctx, handle.ProofHash); statusErr == nil && status.OnChain {
			receipt.Slot = status.AnchorBlock
		}
	}
	logger.Audit().Info("proof anchored",
		slog.String("proof_hash", handle.ProofHash),
		slog.String("tx_id", receipt.TxID),
		slog.Uint64("slot", receipt.Slot),
	)
	if err := p.archiveProof(ctx, handle, receipt.TxID, receipt.Slot); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ExecuteJob implements the proofjob executor: generate, verify for the
// recorded trust score, and optionally anchor.
func (p *Pipeline) ExecuteJob(ctx context.Context, job *proofjob.Job) (*proofjob.JobResult, error) {
	if job == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "job must not be nil")
	}
	handle, err := p.Generate(ctx, job.Subject, job.CircuitID, job.Options)
	if err != nil {
		return nil, err
	}

	result := &proofjob.JobResult{
		ProofHash:        handle.ProofHash,
		CompressionRatio: handle.CompressionRatio,
	}

	outcome, err := p.Verify(ctx, handle, proof.VerifyOptions{TrustThreshold: p.trustThreshold})
	if err != nil {
		return nil, err
	}
	result.TrustScore = outcome.TrustScore
	// The score earned right after generation travels with the handle from
	// here on; the re-archive upserts it onto the record written by Generate.
	// Copied, not mutated in place: the engine may share the handle with its
	// cache.
	scored := *handle
	score := outcome.TrustScore
	scored.TrustScoreAtCreation = &score
	handle = &scored
	if err := p.archiveProof(ctx, handle, "", 0); err != nil {
		return nil, err
	}
	if !outcome.Verified {
		return nil, xerrors.New(proofjob.CodeJobProcessing,
			fmt.Sprintf("generated proof failed verification with trust score %.2f", outcome.TrustScore),
			xerrors.WithRetryable(false))
	}

	if job.Anchor {
		receipt, err := p.Anchor(ctx, handle)
		if err != nil {
			return nil, err
		}
		result.AnchorTxID = receipt.TxID
		result.AnchorSlot = receipt.Slot
	}
	return result, nil
}

// History returns the most recently archived proofs.
func (p *Pipeline) History(ctx context.Context, limit int) ([]mysql.ProofRecord, error) {
	if p.archive == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "proof archive not configured")
	}
	records, err := p.archive.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list archived proofs")
	}
	return records, nil
}

// Verifications returns the archived verification history of a proof.
func (p *Pipeline) Verifications(ctx context.Context, proofHash string, limit int) ([]mysql.VerificationRecord, error) {
	if p.archive == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "proof archive not configured")
	}
	records, err := p.archive.ListVerifications(ctx, proofHash, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list verification history")
	}
	return records, nil
}

// Close flushes the coordinator.
func (p *Pipeline) Close() {
	if p.coordinator != nil {
		p.coordinator.Close()
	}
}

func (p *Pipeline) archiveProof(ctx context.Context, handle *proof.Handle, anchorTx string, anchorSlot uint64) error {
	if p.archive == nil || handle == nil {
		return nil
	}
	record := mysql.RecordFromHandle(handle)
	record.AnchorTx = anchorTx
	record.AnchorSlot = anchorSlot
	if err := p.archive.SaveProof(ctx, record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "archive proof")
	}
	return nil
}

// logVerification appends to the archive's verification log. Verification
// is read-only, so a failed append is logged rather than surfaced.
func (p *Pipeline) logVerification(ctx context.Context, handle *proof.Handle, outcome *proof.Outcome) {
	if p.archive == nil || handle == nil || outcome == nil {
		return
	}
	criteria := make(map[string]bool, len(outcome.PerCriterion))
	for criterion, passed := range outcome.PerCriterion {
		criteria[string(criterion)] = passed
	}
	record := mysql.VerificationRecord{
		ProofHash:  handle.ProofHash,
		Verified:   outcome.Verified,
		TrustScore: outcome.TrustScore,
		Criteria:   criteria,
		Error:      outcome.Error,
		VerifiedAt: outcome.VerifiedAt,
	}
	if err := p.archive.SaveVerification(ctx, record); err != nil {
		p.log.Warn("verification log append failed",
			slog.Any("error", err),
			slog.String("proof_hash", handle.ProofHash))
	}
}
