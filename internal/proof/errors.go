package proof

import (
	xerrors "ZKCipherAI/internal/errors"
)

var (
	// ErrValidation reports a malformed or oversized proof subject.
	ErrValidation = xerrors.New(CodeValidation, "subject validation failed")
	// ErrUnknownCircuit reports a circuit id missing from the registry.
	ErrUnknownCircuit = xerrors.New(CodeUnknownCircuit, "unknown circuit")
	// ErrBatchTooLarge reports a batch above the hard subject cap.
	ErrBatchTooLarge = xerrors.New(CodeBatchTooLarge, "batch exceeds subject cap")
	// ErrInsufficientInputs reports a composition with fewer than two proofs.
	ErrInsufficientInputs = xerrors.New(CodeInsufficientInputs, "composition needs at least two proofs")
	// ErrChainTooShort reports a chain with fewer than two links.
	ErrChainTooShort = xerrors.New(CodeChainTooShort, "proof chain needs at least two links")
	// ErrInternalConsistency reports a handle that failed the engine self-check.
	// It indicates a logic bug and must never be observed in a correct system.
	ErrInternalConsistency = xerrors.New(CodeInternalConsistency, "generated handle failed self-check")
	// ErrVerificationTimeout reports that the criterion fan-out timed out
	// before any outcome could be assembled.
	ErrVerificationTimeout = xerrors.New(xerrors.CodeTimeout, "verification timed out before any criterion resolved")
)

const (
	CodeValidation          xerrors.Code = "PROOF_VALIDATION_FAILED"
	CodeUnknownCircuit      xerrors.Code = "UNKNOWN_CIRCUIT"
	CodeBatchTooLarge       xerrors.Code = "BATCH_TOO_LARGE"
	CodeInsufficientInputs  xerrors.Code = "INSUFFICIENT_INPUTS"
	CodeChainTooShort       xerrors.Code = "CHAIN_TOO_SHORT"
	CodeInternalConsistency xerrors.Code = "INTERNAL_CONSISTENCY"
)

func init() {
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:   "subject validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeUnknownCircuit, xerrors.Attributes{
		Message:   "unknown circuit",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeBatchTooLarge, xerrors.Attributes{
		Message:   "batch exceeds subject cap",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientInputs, xerrors.Attributes{
		Message:   "composition needs at least two proofs",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeChainTooShort, xerrors.Attributes{
		Message:   "proof chain needs at least two links",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInternalConsistency, xerrors.Attributes{
		Message:   "generated handle failed self-check",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}
