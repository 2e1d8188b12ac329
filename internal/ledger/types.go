package ledger

import (
	"context"
	"time"

	xerrors "ZKCipherAI/internal/errors"
)

// Transaction status values reported by GetTransactionStatus.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// AnchorReceipt is returned after an anchor transaction has been accepted
// by the chain endpoint. Slot is zero until the transaction is confirmed.
type AnchorReceipt struct {
	TxID string `json:"txId"`
	Slot uint64 `json:"slot"`
}

// AnchorStatus reports whether a proof hash has been anchored on-chain.
type AnchorStatus struct {
	OnChain     bool   `json:"onChain"`
	AnchorBlock uint64 `json:"anchorBlock,omitempty"`
}

// Client anchors proof hashes on a ledger and answers anchor queries.
// Implementations must honour the context deadline on every call.
type Client interface {
	// SubmitAnchor records the proof hash together with a digest of its
	// public signals. It returns once the transaction has been accepted
	// by the endpoint, not once it has been confirmed.
	SubmitAnchor(ctx context.Context, proofHash, circuitID string, publicSignals map[string]any) (*AnchorReceipt, error)

	// IsAnchored reports whether the proof hash appears in the anchor log.
	IsAnchored(ctx context.Context, proofHash string) (*AnchorStatus, error)

	// GetTransactionStatus resolves a transaction id to one of the
	// Status* constants.
	GetTransactionStatus(ctx context.Context, txID string) (string, error)

	// Close releases the underlying connection.
	Close() error
}

var (
	// ErrConfirmationTimeout is returned when a submitted anchor
	// transaction does not confirm within the poll budget.
	ErrConfirmationTimeout = xerrors.New("CONFIRMATION_TIMEOUT", "anchor transaction not confirmed in time")

	// ErrAnchorRejected is returned when the chain reports the anchor
	// transaction as failed.
	ErrAnchorRejected = xerrors.New("ANCHOR_REJECTED", "anchor transaction failed on chain")

	// ErrNoSigner is returned by write operations on a client that was
	// configured without a private key.
	ErrNoSigner = xerrors.New("LEDGER_NO_SIGNER", "ledger client has no signing key")
)

func init() {
	xerrors.Register("CONFIRMATION_TIMEOUT", xerrors.Attributes{
		Message:   "anchor transaction not confirmed in time",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register("ANCHOR_REJECTED", xerrors.Attributes{
		Message:  "anchor transaction failed on chain",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register("LEDGER_NO_SIGNER", xerrors.Attributes{
		Message:  "ledger client has no signing key",
		Severity: xerrors.SeverityWarning,
	})
}

// WaitForConfirmation polls the transaction status at a fixed interval for
// at most attempts rounds. There is no exponential backoff here on purpose:
// the anchor path is best-effort and the caller already bounds it with a
// context deadline.
func WaitForConfirmation(ctx context.Context, c Client, txID string, interval time.Duration, attempts int) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if attempts <= 0 {
		attempts = 10
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		status, err := c.GetTransactionStatus(ctx, txID)
		if err == nil {
			switch status {
			case StatusConfirmed:
				return nil
			case StatusFailed:
				return ErrAnchorRejected
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ErrConfirmationTimeout
}
