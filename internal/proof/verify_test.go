package proof

import (
	"context"
	"testing"
	"time"
)

type stubAnchors struct {
	anchored bool
	err      error
}

func (s stubAnchors) IsAnchored(context.Context, string) (bool, error) {
	return s.anchored, s.err
}

func newTestVerifier(t *testing.T, opts ...VerifierOption) *Verifier {
	t.Helper()
	base := []VerifierOption{WithVerifierClock(frozenClock())}
	return NewVerifier(NewRegistry(), NewVerificationCache(0), append(base, opts...)...)
}

func generateHandle(t *testing.T, subject Subject, circuitID string) *Handle {
	t.Helper()
	handle, err := newTestEngine(t).Generate(context.Background(), subject, circuitID, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return handle
}

func TestVerifyRoundTrip(t *testing.T) {
	handle := generateHandle(t, encryptionSubject("records-10"), CircuitEncryptionV1)
	verifier := newTestVerifier(t)

	outcome, err := verifier.Verify(context.Background(), handle, VerifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if !outcome.Verified {
		t.Fatalf("freshly generated proof failed verification: %+v", outcome)
	}
	if outcome.TrustScore != 1.0 {
		t.Fatalf("trust score = %v, want 1.0", outcome.TrustScore)
	}
	for _, criterion := range []Criterion{CriterionStructural, CriterionFingerprint, CriterionCircuit, CriterionTemporal} {
		if !outcome.PerCriterion[criterion] {
			t.Fatalf("criterion %s did not pass: %+v", criterion, outcome.PerCriterion)
		}
	}
	if _, ok := outcome.PerCriterion[CriterionOnChain]; ok {
		t.Fatal("on-chain criterion should be absent unless requested")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	handle := generateHandle(t, encryptionSubject("records-11"), CircuitEncryptionV1)

	tampered := *handle
	tampered.PublicSignals = map[string]any{
		"encryptionVerified": true,
		"dataIntegrity":      "forged",
		"extraSignal":        1,
	}

	outcome, err := newTestVerifier(t).Verify(context.Background(), &tampered, VerifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Verified {
		t.Fatal("tampered signal set passed verification")
	}
	if outcome.PerCriterion[CriterionCircuit] {
		t.Fatal("circuit consistency should fail on a forged signal set")
	}

	swapped := *handle
	swapped.Blob = generateHandle(t, encryptionSubject("records-12"), CircuitEncryptionV1).Blob

	outcome, err = newTestVerifier(t).Verify(context.Background(), &swapped, VerifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.PerCriterion[CriterionFingerprint] {
		t.Fatal("fingerprint consistency should fail on a swapped blob")
	}
	if outcome.Verified {
		t.Fatal("blob-swapped handle passed verification")
	}
}

func TestVerifyTemporalWindow(t *testing.T) {
	handle := generateHandle(t, encryptionSubject("records-13"), CircuitEncryptionV1)

	// Eight days later the proof is outside the acceptance window. The three
	// remaining criteria still clear the default threshold unless strict mode
	// demands every mandatory criterion.
	later := frozenClock()().Add(8 * 24 * time.Hour)
	verifier := newTestVerifier(t, WithVerifierClock(func() time.Time { return later }))

	outcome, err := verifier.Verify(context.Background(), handle, VerifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.PerCriterion[CriterionTemporal] {
		t.Fatal("temporal criterion should fail outside the window")
	}
	if !outcome.Verified {
		t.Fatalf("expected default threshold pass at score %v", outcome.TrustScore)
	}
	if outcome.TrustScore != 0.85 {
		t.Fatalf("trust score = %v, want 0.85", outcome.TrustScore)
	}

	strict, err := verifier.Verify(context.Background(), handle, VerifyOptions{Strict: true})
	if err != nil {
		t.Fatalf("verify strict: %v", err)
	}
	if strict.Verified {
		t.Fatal("strict mode must fail when a mandatory criterion fails")
	}
}

func TestVerifyThresholdOverride(t *testing.T) {
	handle := generateHandle(t, encryptionSubject("records-14"), CircuitEncryptionV1)

	later := frozenClock()().Add(8 * 24 * time.Hour)
	verifier := newTestVerifier(t, WithVerifierClock(func() time.Time { return later }))

	outcome, err := verifier.Verify(context.Background(), handle, VerifyOptions{TrustThreshold: 0.9})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Verified {
		t.Fatalf("score %v should not clear a 0.9 threshold", outcome.TrustScore)
	}
}

func TestVerifyOnChainCriterion(t *testing.T) {
	handle := generateHandle(t, encryptionSubject("records-15"), CircuitEncryptionV1)

	anchored := newTestVerifier(t, WithAnchorChecker(stubAnchors{anchored: true}))
	outcome, err := anchored.Verify(context.Background(), handle, VerifyOptions{CheckOnChain: true})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !outcome.PerCriterion[CriterionOnChain] {
		t.Fatal("anchored proof should pass the on-chain criterion")
	}
	if outcome.TrustScore != 1.0 {
		t.Fatalf("trust score = %v, the bonus must cap at 1.0", outcome.TrustScore)
	}

	unanchored := newTestVerifier(t, WithAnchorChecker(stubAnchors{anchored: false}))
	outcome, err = unanchored.Verify(context.Background(), handle, VerifyOptions{CheckOnChain: true})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.PerCriterion[CriterionOnChain] {
		t.Fatal("unanchored proof should fail the on-chain criterion")
	}
	if !outcome.Verified {
		t.Fatal("the on-chain criterion is optional and must not sink the verdict")
	}

	bare := newTestVerifier(t)
	outcome, err = bare.Verify(context.Background(), handle, VerifyOptions{CheckOnChain: true})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.PerCriterion[CriterionOnChain] {
		t.Fatal("without a ledger the on-chain criterion reports false")
	}
}

func TestVerifyNilProof(t *testing.T) {
	outcome, err := newTestVerifier(t).Verify(context.Background(), nil, VerifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome.Verified {
		t.Fatal("nil proof must not verify")
	}
	if outcome.Error == "" {
		t.Fatal("nil proof outcome should carry an error message")
	}
}
