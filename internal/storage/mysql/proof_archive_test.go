package mysql

import (
	"context"
	"testing"
	"time"

	"ZKCipherAI/internal/proof"
)

func TestFileArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	archive, err := NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("create file archive: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UnixMilli()
	score := 0.92
	record := ProofRecord{
		ProofHash:        "proof_0a1b2c3d4e5f",
		CircuitID:        "encryption_v1",
		PublicSignals:    map[string]any{"encryptionVerified": true},
		Blob:             []byte("blob"),
		CompressionRatio: 0.4,
		GenerationMs:     12,
		TrustScore:       &score,
		CreatedAt:        now,
	}

	if err := archive.SaveProof(ctx, record); err != nil {
		t.Fatalf("save proof: %v", err)
	}

	stored, err := archive.GetProof(ctx, record.ProofHash)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if stored.CircuitID != "encryption_v1" || stored.TrustScore == nil || *stored.TrustScore != score {
		t.Fatalf("unexpected stored record: %+v", stored)
	}

	if _, err := archive.GetProof(ctx, "proof_ffffffffffff"); err != ErrProofNotFound {
		t.Fatalf("expected ErrProofNotFound, got %v", err)
	}

	// Re-saving with anchor metadata replaces the indexed entry.
	record.AnchorTx = "0xabc"
	record.AnchorSlot = 42
	if err := archive.SaveProof(ctx, record); err != nil {
		t.Fatalf("resave proof: %v", err)
	}
	stored, err = archive.GetProof(ctx, record.ProofHash)
	if err != nil {
		t.Fatalf("get proof after resave: %v", err)
	}
	if stored.AnchorTx != "0xabc" || stored.AnchorSlot != 42 {
		t.Fatalf("anchor metadata not updated: %+v", stored)
	}

	latest, err := archive.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("expected 1 proof, got %d", len(latest))
	}
}

func TestFileArchiveVerificationHistory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("create file archive: %v", err)
	}

	ctx := context.Background()
	hash := "proof_0a1b2c3d4e5f"
	for i := 0; i < 3; i++ {
		record := VerificationRecord{
			ProofHash:  hash,
			Verified:   i != 1,
			TrustScore: 0.8 + float64(i)*0.05,
			Criteria:   map[string]bool{string(proof.CriterionStructural): true},
			VerifiedAt: time.Now().UnixMilli() + int64(i),
		}
		if err := archive.SaveVerification(ctx, record); err != nil {
			t.Fatalf("save verification %d: %v", i, err)
		}
	}

	history, err := archive.ListVerifications(ctx, hash, 2)
	if err != nil {
		t.Fatalf("list verifications: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(history))
	}
	if history[0].TrustScore <= history[1].TrustScore {
		t.Fatalf("expected newest first: %+v", history)
	}

	// Reopen from disk and check the history survived.
	reopened, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("reopen archive: %v", err)
	}
	history, err = reopened.ListVerifications(ctx, hash, 10)
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 outcomes after reopen, got %d", len(history))
	}
}
