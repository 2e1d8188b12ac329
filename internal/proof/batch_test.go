package proof

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestCoordinator(t *testing.T, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	c := NewCoordinator(newTestEngine(t), opts...)
	t.Cleanup(c.Close)
	return c
}

func batchSubjects(n int) []Subject {
	subjects := make([]Subject, n)
	for i := range subjects {
		subjects[i] = encryptionSubject(fmt.Sprintf("batch-%03d", i))
	}
	return subjects
}

func TestGenerateBatchAtCap(t *testing.T) {
	coordinator := newTestCoordinator(t)

	result, err := coordinator.GenerateBatch(context.Background(), batchSubjects(MaxBatchSubjects), CircuitEncryptionV1, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}

	if len(result.Proofs) != MaxBatchSubjects {
		t.Fatalf("expected %d proofs, got %d", MaxBatchSubjects, len(result.Proofs))
	}
	if result.BatchID == "" {
		t.Fatal("batch id missing")
	}
	if result.AggregateProofHandle == nil {
		t.Fatal("aggregate handle missing")
	}
	if result.AggregateCompressionRatio != result.AggregateProofHandle.CompressionRatio {
		t.Fatal("aggregate ratio does not match the aggregate handle")
	}

	seen := make(map[string]bool, len(result.Proofs))
	for i, handle := range result.Proofs {
		if handle == nil {
			t.Fatalf("proof %d is nil", i)
		}
		seen[handle.ProofHash] = true
	}
	if len(seen) != MaxBatchSubjects {
		t.Fatalf("expected %d distinct hashes, got %d", MaxBatchSubjects, len(seen))
	}
}

func TestGenerateBatchRejectsOverCap(t *testing.T) {
	coordinator := newTestCoordinator(t)

	_, err := coordinator.GenerateBatch(context.Background(), batchSubjects(MaxBatchSubjects+1), CircuitEncryptionV1, GenerateOptions{})
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected batch-too-large, got %v", err)
	}

	_, err = coordinator.GenerateBatch(context.Background(), nil, CircuitEncryptionV1, GenerateOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty batch, got %v", err)
	}
}

func TestGenerateBatchPartialSuccess(t *testing.T) {
	coordinator := newTestCoordinator(t)

	subjects := batchSubjects(4)
	subjects[2] = nil

	result, err := coordinator.GenerateBatch(context.Background(), subjects, CircuitEncryptionV1, GenerateOptions{})
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if len(result.Proofs) != 3 {
		t.Fatalf("expected 3 surviving proofs, got %d", len(result.Proofs))
	}
	if result.AggregateProofHandle == nil {
		t.Fatal("aggregate handle missing after partial success")
	}
}

func TestGenerateBatchAllFailed(t *testing.T) {
	coordinator := newTestCoordinator(t)

	_, err := coordinator.GenerateBatch(context.Background(), []Subject{nil, nil}, CircuitEncryptionV1, GenerateOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnqueueAutoFlushesAtThreshold(t *testing.T) {
	coordinator := newTestCoordinator(t)

	const items = accumulateFlushSize
	handles := make([]*Handle, items)
	errs := make([]error, items)
	var wg sync.WaitGroup
	for i := 0; i < items; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i], errs[i] = coordinator.Enqueue(context.Background(),
				encryptionSubject(fmt.Sprintf("queued-%02d", i)), CircuitEncryptionV1, GenerateOptions{Batched: true})
		}()
	}
	wg.Wait()

	for i := 0; i < items; i++ {
		if errs[i] != nil {
			t.Fatalf("item %d failed: %v", i, errs[i])
		}
		if handles[i] == nil {
			t.Fatalf("item %d has no handle", i)
		}
	}
}

func TestEnqueueFlushPendingReleasesWaiters(t *testing.T) {
	coordinator := newTestCoordinator(t)

	type result struct {
		handle *Handle
		err    error
	}
	done := make(chan result, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			handle, err := coordinator.Enqueue(context.Background(),
				encryptionSubject(fmt.Sprintf("pending-%d", i)), CircuitEncryptionV1, GenerateOptions{Batched: true})
			done <- result{handle: handle, err: err}
		}()
	}

	// Give the three waiters time to queue before forcing the flush.
	time.Sleep(50 * time.Millisecond)
	coordinator.FlushPending()

	for i := 0; i < 3; i++ {
		select {
		case res := <-done:
			if res.err != nil {
				t.Fatalf("waiter failed: %v", res.err)
			}
			if res.handle == nil {
				t.Fatal("waiter got no handle")
			}
		case <-time.After(5 * time.Second):
			t.Fatal("waiter did not return after flush")
		}
	}
}

func TestEnqueuePreservesCallerOptions(t *testing.T) {
	coordinator := newTestCoordinator(t)

	// One queue, mixed compression settings. The flush must generate each
	// item with the options its own caller passed, not a neighbour's.
	const items = 4
	disabled := func(i int) bool { return i%2 == 1 }

	type result struct {
		index  int
		handle *Handle
		err    error
	}
	done := make(chan result, items)
	for i := 0; i < items; i++ {
		i := i
		go func() {
			handle, err := coordinator.Enqueue(context.Background(),
				encryptionSubject(fmt.Sprintf("options-%d", i)), CircuitEncryptionV1,
				GenerateOptions{Batched: true, DisableCompression: disabled(i)})
			done <- result{index: i, handle: handle, err: err}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	coordinator.FlushPending()

	engine := newTestEngine(t)
	for i := 0; i < items; i++ {
		select {
		case res := <-done:
			if res.err != nil {
				t.Fatalf("item %d failed: %v", res.index, res.err)
			}
			want, err := engine.Generate(context.Background(),
				encryptionSubject(fmt.Sprintf("options-%d", res.index)), CircuitEncryptionV1,
				GenerateOptions{DisableCompression: disabled(res.index)})
			if err != nil {
				t.Fatalf("direct generate %d: %v", res.index, err)
			}
			if res.handle.ProofHash != want.ProofHash {
				t.Fatalf("item %d hash = %s, want %s", res.index, res.handle.ProofHash, want.ProofHash)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("queued item did not return after flush")
		}
	}
}

func TestEnqueueRejectsUnknownCircuitAndClosed(t *testing.T) {
	coordinator := NewCoordinator(newTestEngine(t))

	if _, err := coordinator.Enqueue(context.Background(), encryptionSubject("x"), "no_such_circuit", GenerateOptions{}); !errors.Is(err, ErrUnknownCircuit) {
		t.Fatalf("expected unknown circuit error, got %v", err)
	}

	coordinator.Close()
	if _, err := coordinator.Enqueue(context.Background(), encryptionSubject("x"), CircuitEncryptionV1, GenerateOptions{}); err == nil {
		t.Fatal("expected error after close")
	}
}
