package proofjob

import (
	stdErrors "errors"

	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/internal/proof"
)

// Status tracks a job through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// JobResult holds the outcome of one executed proof job.
type JobResult struct {
	ProofHash        string  `json:"proof_hash"`
	TrustScore       float64 `json:"trust_score"`
	CompressionRatio float64 `json:"compression_ratio"`
	AnchorTxID       string  `json:"anchor_tx_id,omitempty"`
	AnchorSlot       uint64  `json:"anchor_slot,omitempty"`
	Observations     string  `json:"observations,omitempty"`
}

// Job describes a queued proof generation request. Anchor asks the
// executor to record the resulting proof hash on the configured ledger
// after generation succeeds.
type Job struct {
	ID         string                `json:"id"`
	CircuitID  string                `json:"circuit_id"`
	Subject    proof.Subject         `json:"subject"`
	Options    proof.GenerateOptions `json:"options"`
	Anchor     bool                  `json:"anchor"`
	Metadata   map[string]any        `json:"metadata,omitempty"`
	Status     Status                `json:"status"`
	Attempts   int                   `json:"attempts"`
	MaxRetries int                   `json:"max_retries"`
	LastError  string                `json:"last_error,omitempty"`
	ErrorCode  string                `json:"error_code,omitempty"`
	Result     *JobResult            `json:"result,omitempty"`
	CreatedAt  int64                 `json:"created_at"`
	UpdatedAt  int64                 `json:"updated_at"`
}

var (
	// ErrJobNotFound indicates the job id does not exist.
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "proof job not found")
	// ErrJobConflict indicates the job cannot take the requested transition
	// in its current state.
	ErrJobConflict = xerrors.New(CodeJobConflict, "proof job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted indicates the job already succeeded.
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "proof job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted indicates the job has no retry budget left.
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "proof job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobCompensate xerrors.Code = "JOB_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "proof job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "proof job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "proof job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "proof job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "proof job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish proof job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "proof job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobCompensate, xerrors.Attributes{
		Message:  "proof job compensation failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsJobError reports whether err maps to the given job error code.
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrJobNotFound) {
		return target == CodeJobNotFound
	}
	if stdErrors.Is(err, ErrJobConflict) {
		return target == CodeJobConflict
	}
	if stdErrors.Is(err, ErrJobCompleted) {
		return target == CodeJobCompleted
	}
	if stdErrors.Is(err, ErrJobExhausted) {
		return target == CodeJobExhausted
	}
	return false
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

func cloneSubject(subject proof.Subject) proof.Subject {
	if subject == nil {
		return nil
	}
	cloned := make(proof.Subject, len(subject))
	for key, value := range subject {
		cloned[key] = value
	}
	return cloned
}

// IsValidStatus checks that status is one of the supported values.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
