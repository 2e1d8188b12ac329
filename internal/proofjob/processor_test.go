package proofjob

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ZKCipherAI/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
}

func (f *fakeExecutor) ExecuteJob(ctx context.Context, job *Job) (*JobResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	return &JobResult{ProofHash: "proof_0a1b2c3d4e5f", TrustScore: 0.9}, nil
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		req := SubmitRequest{
			CircuitID: "encryption_v1",
			Subject:   testSubject(fmt.Sprintf("data-%d", i)),
		}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("submit job: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("jobs not processed in time, completed %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

type failingExecutor struct {
	calls atomic.Int32
}

func (f *failingExecutor) ExecuteJob(ctx context.Context, job *Job) (*JobResult, error) {
	f.calls.Add(1)
	return nil, errors.New("prover unavailable")
}

type degradedRecovery struct{}

func (degradedRecovery) Recover(_ context.Context, job *Job, cause error) (*JobResult, error) {
	return &JobResult{
		ProofHash:    "",
		Observations: fmt.Sprintf("served from archive after %v", cause),
	}, nil
}

func TestProcessorCompensatesNonRetryableFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)

	service := NewService(store, queue, 3)
	processor := NewProcessor(&failingExecutor{}, store, queue, queue,
		WithRecoveryHandler(degradedRecovery{}))

	go func() { _ = processor.Start(ctx) }()

	job, err := service.Submit(ctx, SubmitRequest{CircuitID: "encryption_v1", Subject: testSubject("d2")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		stored, err := store.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status == StatusSucceeded {
			if stored.Result == nil || stored.Result.Observations == "" {
				t.Fatalf("expected degraded observations, got %+v", stored.Result)
			}
			return
		}
		if stored.Status == StatusFailed {
			t.Fatalf("job failed instead of compensating: %s", stored.LastError)
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, status %s", stored.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

type recordingDispatcher struct {
	events chan alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events <- event
	return nil
}

func TestProcessorAlertsOnTerminalFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	dispatcher := &recordingDispatcher{events: make(chan alerting.Event, 4)}

	service := NewService(store, queue, 1)
	processor := NewProcessor(&failingExecutor{}, store, queue, queue,
		WithAlertDispatcher(dispatcher))

	go func() { _ = processor.Start(ctx) }()

	job, err := service.Submit(ctx, SubmitRequest{CircuitID: "encryption_v1", Subject: testSubject("d3")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case event := <-dispatcher.events:
		if event.JobID != job.ID {
			t.Fatalf("alert for job %s, want %s", event.JobID, job.ID)
		}
		if event.CircuitID != "encryption_v1" {
			t.Fatalf("alert circuit = %s", event.CircuitID)
		}
		if event.Metadata["stage"] == "" {
			t.Fatal("alert missing stage metadata")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no alert dispatched for terminal failure")
	}
}

func TestProcessorRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &failingExecutor{}

	service := NewService(store, queue, 1)
	processor := NewProcessor(executor, store, queue, queue)

	go func() { _ = processor.Start(ctx) }()

	job, err := service.Submit(ctx, SubmitRequest{CircuitID: "encryption_v1", Subject: testSubject("d1")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		stored, err := store.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status == StatusFailed {
			if stored.LastError == "" {
				t.Fatalf("expected last error to be recorded")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached failed state, status %s", stored.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
