package proof

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func frozenClock() func() time.Time {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{WithClock(frozenClock())}
	return NewEngine(NewRegistry(), NewProofCache(0), append(base, opts...)...)
}

func encryptionSubject(dataID string) Subject {
	return Subject{
		"dataId":           dataID,
		"encryptionScheme": "aes-256-gcm",
		"dataHash":         "5f2d8a11c3b4e6f7",
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	ctx := context.Background()
	subject := encryptionSubject("records-1")

	first := newTestEngine(t)
	second := newTestEngine(t)

	a, err := first.Generate(ctx, subject, CircuitEncryptionV1, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := second.Generate(ctx, subject, CircuitEncryptionV1, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if a.ProofHash != b.ProofHash {
		t.Fatalf("identical inputs produced %s and %s", a.ProofHash, b.ProofHash)
	}

	c, err := first.Generate(ctx, encryptionSubject("records-2"), CircuitEncryptionV1, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if c.ProofHash == a.ProofHash {
		t.Fatal("different subjects produced the same proof hash")
	}

	d, err := second.Generate(ctx, subject, CircuitEncryptionV1, GenerateOptions{DisableCompression: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if d.ProofHash == a.ProofHash {
		t.Fatal("different options produced the same proof hash")
	}
}

func TestGenerateHandleShape(t *testing.T) {
	engine := newTestEngine(t)

	handle, err := engine.Generate(context.Background(), encryptionSubject("records-3"), CircuitEncryptionV1, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if !proofHashPattern.MatchString(handle.ProofHash) {
		t.Fatalf("proof hash %q does not match the wire format", handle.ProofHash)
	}
	if handle.CircuitID != CircuitEncryptionV1 {
		t.Fatalf("unexpected circuit %q", handle.CircuitID)
	}
	if len(handle.PublicSignals) != 2 {
		t.Fatalf("expected 2 public signals, got %d", len(handle.PublicSignals))
	}
	if handle.PublicSignals["encryptionVerified"] != true {
		t.Fatal("encryptionVerified signal missing")
	}
	if handle.PublicSignals["dataIntegrity"] != "5f2d8a11c3b4e6f7" {
		t.Fatalf("dataIntegrity signal %v should carry the supplied hash", handle.PublicSignals["dataIntegrity"])
	}
	if handle.GenerationDurationMs <= 0 {
		t.Fatalf("generation duration %d must be positive", handle.GenerationDurationMs)
	}
	if handle.CompressionRatio <= 0 {
		t.Fatalf("compression ratio %v must be positive", handle.CompressionRatio)
	}

	plain, err := engine.Generate(context.Background(), encryptionSubject("records-3"), CircuitEncryptionV1, GenerateOptions{DisableCompression: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if plain.CompressionRatio != 1.0 {
		t.Fatalf("uncompressed ratio = %v, want 1.0", plain.CompressionRatio)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Generate(ctx, encryptionSubject("x"), "no_such_circuit", GenerateOptions{}); !errors.Is(err, ErrUnknownCircuit) {
		t.Fatalf("expected unknown circuit error, got %v", err)
	}
	if _, err := engine.Generate(ctx, nil, CircuitEncryptionV1, GenerateOptions{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for nil subject, got %v", err)
	}
}

func TestGenerateCoalescesConcurrentCalls(t *testing.T) {
	var builds atomic.Int64
	engine := newTestEngine(t, WithNonceSource(func() string {
		builds.Add(1)
		return "nonce"
	}))

	subject := encryptionSubject("records-4")
	const callers = 20

	hashes := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := engine.Generate(context.Background(), subject, CircuitEncryptionV1, GenerateOptions{})
			if err != nil {
				errs[i] = err
				return
			}
			hashes[i] = handle.ProofHash
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if hashes[i] != hashes[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, hashes[i], hashes[0])
		}
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("expected exactly 1 computation, observed %d", got)
	}
}

func TestGenerateAllCircuits(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	subjects := map[string]Subject{
		CircuitEncryptionV1: encryptionSubject("records-5"),
		CircuitInferenceV1: {
			"modelId":   "resnet-50",
			"modelHash": "feedface01",
			"inputHash": "abc123",
		},
		CircuitModelUpdateV1: {
			"modelId":     "resnet-50",
			"weightsHash": "0badc0de02",
			"round":       12,
		},
		CircuitFederatedRoundV1: {
			"roundId":      "round-12",
			"participants": []string{"node-a", "node-b", "node-c"},
		},
		CircuitRecursiveVerification: {
			"inputProofHashes": []string{"proof_aaaaaaaaaaaa", "proof_bbbbbbbbbbbb"},
			"compositionDepth": 2,
		},
	}

	for circuitID, subject := range subjects {
		handle, err := engine.Generate(ctx, subject, circuitID, GenerateOptions{})
		if err != nil {
			t.Fatalf("generate %s: %v", circuitID, err)
		}
		desc, err := engine.Registry().Resolve(circuitID)
		if err != nil {
			t.Fatalf("resolve %s: %v", circuitID, err)
		}
		if len(handle.PublicSignals) != len(desc.RequiredSignalKeys) {
			t.Fatalf("%s produced %d signals, want %d", circuitID, len(handle.PublicSignals), len(desc.RequiredSignalKeys))
		}
		for _, key := range desc.RequiredSignalKeys {
			if _, ok := handle.PublicSignals[key]; !ok {
				t.Fatalf("%s is missing signal %s", circuitID, key)
			}
		}
	}

	federated, err := engine.Generate(ctx, subjects[CircuitFederatedRoundV1], CircuitFederatedRoundV1, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if federated.PublicSignals["participantCount"] != 3 {
		t.Fatalf("participantCount = %v, want 3", federated.PublicSignals["participantCount"])
	}
}
