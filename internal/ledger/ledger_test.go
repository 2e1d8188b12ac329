package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryClientAnchorRoundTrip(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()

	receipt, err := client.SubmitAnchor(ctx, "hash-1", "encryption_v1", map[string]any{"dataId": "d-1"})
	if err != nil {
		t.Fatalf("submit anchor: %v", err)
	}
	if receipt.TxID == "" || receipt.Slot == 0 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	status, err := client.IsAnchored(ctx, "hash-1")
	if err != nil {
		t.Fatalf("is anchored: %v", err)
	}
	if !status.OnChain || status.AnchorBlock != receipt.Slot {
		t.Fatalf("unexpected status %+v", status)
	}

	status, err = client.IsAnchored(ctx, "hash-unknown")
	if err != nil {
		t.Fatalf("is anchored: %v", err)
	}
	if status.OnChain {
		t.Fatal("unknown hash reported as anchored")
	}

	txStatus, err := client.GetTransactionStatus(ctx, receipt.TxID)
	if err != nil {
		t.Fatalf("transaction status: %v", err)
	}
	if txStatus != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", txStatus)
	}
	if txStatus, _ = client.GetTransactionStatus(ctx, "unknown-tx"); txStatus != StatusPending {
		t.Fatalf("unknown tx should read pending, got %s", txStatus)
	}
}

func TestWaitForConfirmation(t *testing.T) {
	client := NewMemoryClient()
	ctx := context.Background()

	receipt, err := client.SubmitAnchor(ctx, "hash-2", "inference_v1", nil)
	if err != nil {
		t.Fatalf("submit anchor: %v", err)
	}
	if err := WaitForConfirmation(ctx, client, receipt.TxID, time.Millisecond, 3); err != nil {
		t.Fatalf("wait for confirmation: %v", err)
	}

	if err := WaitForConfirmation(ctx, client, "never-lands", time.Millisecond, 2); !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected confirmation timeout, got %v", err)
	}

	client.MarkFailed(receipt.TxID)
	if err := WaitForConfirmation(ctx, client, receipt.TxID, time.Millisecond, 2); !errors.Is(err, ErrAnchorRejected) {
		t.Fatalf("expected anchor rejection, got %v", err)
	}
}

func TestLoadChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	body := `chains:
  local:
    type: memory
    description: in-process ledger
  testnet:
    type: evm
    rpc_url: https://rpc.example.org
    anchor_contract: "0x0000000000000000000000000000000000000001"
    private_key_env: TEST_ANCHOR_KEY
    chain_id: 11155111
    confirm_interval: 4s
    confirm_attempts: 15
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write chain config: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load chain definitions: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(defs.Chains))
	}

	testnet := defs.Chains["testnet"]
	if testnet.Type != "evm" || testnet.ChainID != 11155111 {
		t.Fatalf("unexpected testnet definition %+v", testnet)
	}
	if testnet.ConfirmInterval.Std() != 4*time.Second || testnet.ConfirmAttempts != 15 {
		t.Fatalf("unexpected confirm policy %v/%d", testnet.ConfirmInterval.Std(), testnet.ConfirmAttempts)
	}

	t.Setenv("TEST_ANCHOR_KEY", "deadbeef")
	if got := testnet.PrivateKey(); got != "deadbeef" {
		t.Fatalf("private key = %q", got)
	}

	empty, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("load empty path: %v", err)
	}
	if len(empty.Chains) != 0 {
		t.Fatalf("expected no chains, got %d", len(empty.Chains))
	}
}
