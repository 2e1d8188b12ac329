package pipeline

import (
	"context"
	"testing"

	"ZKCipherAI/internal/ledger"
	"ZKCipherAI/internal/proof"
	"ZKCipherAI/internal/proofjob"
	"ZKCipherAI/internal/storage/mysql"
)

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	registry := proof.NewRegistry()
	engine := proof.NewEngine(registry, proof.NewProofCache(0))
	verifier := proof.NewVerifier(registry, proof.NewVerificationCache(0))
	coordinator := proof.NewCoordinator(engine)
	t.Cleanup(coordinator.Close)
	return New(engine, verifier, coordinator, opts...)
}

func encryptionSubject(id string) proof.Subject {
	return proof.Subject{
		"dataId":           id,
		"encryptionScheme": "aes-256-gcm",
		"keyCommitment":    "0xdeadbeef",
	}
}

func TestPipelineGenerateAndVerify(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	handle, err := p.Generate(ctx, encryptionSubject("d1"), proof.CircuitEncryptionV1, proof.GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	outcome, err := p.Verify(ctx, handle, proof.VerifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !outcome.Verified {
		t.Fatalf("expected proof to verify, outcome %+v", outcome)
	}
}

func TestPipelineArchivesProofs(t *testing.T) {
	archive, err := mysql.NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	p := newTestPipeline(t, WithArchive(archive))
	ctx := context.Background()

	handle, err := p.Generate(ctx, encryptionSubject("d1"), proof.CircuitEncryptionV1, proof.GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	stored, err := archive.GetProof(ctx, handle.ProofHash)
	if err != nil {
		t.Fatalf("archived proof missing: %v", err)
	}
	if stored.CircuitID != proof.CircuitEncryptionV1 {
		t.Fatalf("unexpected archived circuit: %s", stored.CircuitID)
	}

	history, err := p.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 archived proof, got %d", len(history))
	}
}

func TestPipelineAnchorRoundTrip(t *testing.T) {
	chain := ledger.NewMemoryClient()
	archive, err := mysql.NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	p := newTestPipeline(t, WithAnchorLedger(chain), WithArchive(archive))
	ctx := context.Background()

	handle, err := p.Generate(ctx, encryptionSubject("d1"), proof.CircuitEncryptionV1, proof.GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	receipt, err := p.Anchor(ctx, handle)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if receipt.TxID == "" || receipt.Slot == 0 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	status, err := chain.IsAnchored(ctx, handle.ProofHash)
	if err != nil {
		t.Fatalf("is anchored: %v", err)
	}
	if !status.OnChain {
		t.Fatalf("proof not anchored on ledger")
	}

	stored, err := archive.GetProof(ctx, handle.ProofHash)
	if err != nil {
		t.Fatalf("archived proof missing: %v", err)
	}
	if stored.AnchorTx != receipt.TxID || stored.AnchorSlot != receipt.Slot {
		t.Fatalf("anchor metadata not archived: %+v", stored)
	}
}

func TestPipelineExecuteJobRecordsCreationScore(t *testing.T) {
	archive, err := mysql.NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	p := newTestPipeline(t, WithArchive(archive))
	ctx := context.Background()

	job := &proofjob.Job{
		ID:        "job-1",
		CircuitID: proof.CircuitEncryptionV1,
		Subject:   encryptionSubject("d1"),
	}
	result, err := p.ExecuteJob(ctx, job)
	if err != nil {
		t.Fatalf("execute job: %v", err)
	}

	stored, err := archive.GetProof(ctx, result.ProofHash)
	if err != nil {
		t.Fatalf("archived proof missing: %v", err)
	}
	if stored.TrustScore == nil {
		t.Fatalf("archived proof carries no trust score: %+v", stored)
	}
	if *stored.TrustScore != result.TrustScore {
		t.Fatalf("archived score %f, job result %f", *stored.TrustScore, result.TrustScore)
	}
}

func TestPipelineExecuteJob(t *testing.T) {
	chain := ledger.NewMemoryClient()
	p := newTestPipeline(t, WithAnchorLedger(chain))
	ctx := context.Background()

	job := &proofjob.Job{
		ID:        "job-1",
		CircuitID: proof.CircuitEncryptionV1,
		Subject:   encryptionSubject("d1"),
		Anchor:    true,
	}
	result, err := p.ExecuteJob(ctx, job)
	if err != nil {
		t.Fatalf("execute job: %v", err)
	}
	if result.ProofHash == "" {
		t.Fatalf("expected proof hash in result")
	}
	if result.TrustScore < proof.DefaultTrustThreshold {
		t.Fatalf("trust score %f below threshold", result.TrustScore)
	}
	if result.AnchorTxID == "" || result.AnchorSlot == 0 {
		t.Fatalf("expected anchor receipt, got %+v", result)
	}
}
