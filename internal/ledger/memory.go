package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryClient is an in-process anchor ledger for development and tests.
// Every submitted anchor confirms immediately at a monotonically increasing
// block height.
type MemoryClient struct {
	mu      sync.RWMutex
	anchors map[string]uint64
	txs     map[string]string
	height  atomic.Uint64
}

// NewMemoryClient returns an empty in-memory anchor ledger.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		anchors: make(map[string]uint64),
		txs:     make(map[string]string),
	}
}

// SubmitAnchor records the proof hash at the next block height.
func (m *MemoryClient) SubmitAnchor(ctx context.Context, proofHash, circuitID string, publicSignals map[string]any) (*AnchorReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slot := m.height.Add(1)
	txID := fmt.Sprintf("mem-%s-%d", proofHash, slot)

	m.mu.Lock()
	m.anchors[proofHash] = slot
	m.txs[txID] = StatusConfirmed
	m.mu.Unlock()

	return &AnchorReceipt{TxID: txID, Slot: slot}, nil
}

// IsAnchored reports whether the proof hash has been submitted.
func (m *MemoryClient) IsAnchored(ctx context.Context, proofHash string) (*AnchorStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	slot, ok := m.anchors[proofHash]
	m.mu.RUnlock()
	if !ok {
		return &AnchorStatus{OnChain: false}, nil
	}
	return &AnchorStatus{OnChain: true, AnchorBlock: slot}, nil
}

// GetTransactionStatus resolves a transaction id. Unknown ids read as
// pending, matching the EVM client's behaviour for unpropagated hashes.
func (m *MemoryClient) GetTransactionStatus(ctx context.Context, txID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	status, ok := m.txs[txID]
	m.mu.RUnlock()
	if !ok {
		return StatusPending, nil
	}
	return status, nil
}

// MarkFailed flips a recorded transaction to failed.
func (m *MemoryClient) MarkFailed(txID string) {
	m.mu.Lock()
	m.txs[txID] = StatusFailed
	m.mu.Unlock()
}

// Close is a no-op for the in-memory ledger.
func (m *MemoryClient) Close() error { return nil }

var _ Client = (*MemoryClient)(nil)
