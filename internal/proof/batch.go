package proof

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/internal/observability/metrics"
	"ZKCipherAI/pkg/logger"
)

// Batch limits. MaxBatchSubjects is the hard request cap; accumulateFlushSize
// is the auto-flush threshold of the implicit queueing mode.
const (
	MaxBatchSubjects    = 100
	accumulateFlushSize = 10
)

// Coordinator groups many subjects into bounded batches, generates each proof
// concurrently and derives one aggregate handle per batch. It also owns the
// implicit accumulation queue used by calls flagged for batching.
type Coordinator struct {
	engine      *Engine
	log         *slog.Logger
	concurrency int
	linger      time.Duration

	mu      sync.Mutex
	pending map[string][]*queuedItem
	closed  bool

	flushCtx    context.Context
	flushCancel context.CancelFunc
	flushWG     sync.WaitGroup
}

// CoordinatorOption configures optional coordinator behaviour.
type CoordinatorOption func(*Coordinator)

// WithBatchConcurrency bounds the per-batch generation fan-out.
func WithBatchConcurrency(workers int) CoordinatorOption {
	return func(c *Coordinator) {
		if workers > 0 {
			c.concurrency = workers
		}
	}
}

// WithFlushLinger adds a periodic flush of partially filled accumulation
// queues. The flush task is owned by the coordinator and stops with Close.
// Zero keeps flushing purely size-triggered.
func WithFlushLinger(interval time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if interval > 0 {
			c.linger = interval
		}
	}
}

// WithCoordinatorLogger overrides the coordinator logger.
func WithCoordinatorLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCoordinator builds a batch coordinator over the given engine.
func NewCoordinator(engine *Engine, opts ...CoordinatorOption) *Coordinator {
	flushCtx, flushCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		engine:      engine,
		log:         logger.Named("proof.batch"),
		concurrency: 8,
		pending:     make(map[string][]*queuedItem),
		flushCtx:    flushCtx,
		flushCancel: flushCancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.linger > 0 {
		c.flushWG.Add(1)
		go c.lingerLoop()
	}
	return c
}

// GenerateBatch generates one proof per subject concurrently and derives the
// aggregate handle. Individual subject failures are logged and excluded;
// only an over-cap or empty request fails the whole call.
func (c *Coordinator) GenerateBatch(ctx context.Context, subjects []Subject, circuitID string, opts GenerateOptions) (*BatchResult, error) {
	if c.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "batch coordinator not initialised")
	}
	if len(subjects) == 0 {
		return nil, xerrors.Wrap(CodeValidation, ErrValidation, "batch contains no subjects")
	}
	if len(subjects) > MaxBatchSubjects {
		return nil, xerrors.Wrap(CodeBatchTooLarge, ErrBatchTooLarge,
			fmt.Sprintf("batch holds %d subjects, cap is %d", len(subjects), MaxBatchSubjects))
	}

	batchID := uuid.NewString()
	// Results correlate to inputs by index, never by completion order.
	handles := make([]*Handle, len(subjects))
	errs := make([]error, len(subjects))

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for i, subject := range subjects {
		i, subject := i, subject
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			handles[i], errs[i] = c.engine.Generate(ctx, subject, circuitID, opts)
		}()
	}
	wg.Wait()

	proofs := make([]*Handle, 0, len(subjects))
	hashes := make([]string, 0, len(subjects))
	for i, handle := range handles {
		if errs[i] != nil {
			c.log.Warn("batch item excluded",
				slog.String("batch_id", batchID),
				slog.Int("index", i),
				slog.Any("error", errs[i]))
			continue
		}
		proofs = append(proofs, handle)
		hashes = append(hashes, handle.ProofHash)
	}
	if len(proofs) == 0 {
		return nil, xerrors.Wrap(CodeValidation, ErrValidation, "every batch item failed generation")
	}

	aggregate, err := c.aggregate(ctx, hashes, circuitID, opts)
	if err != nil {
		return nil, err
	}

	metrics.ObserveBatch(circuitID, len(subjects), len(proofs))
	return &BatchResult{
		BatchID:                   batchID,
		Proofs:                    proofs,
		AggregateProofHandle:      aggregate,
		AggregateCompressionRatio: aggregate.CompressionRatio,
	}, nil
}

// aggregate commits to the batch membership with a further proof over a
// synthetic subject. It is a descriptive conjunction commitment, not a
// compact cryptographic aggregate.
func (c *Coordinator) aggregate(ctx context.Context, hashes []string, circuitID string, opts GenerateOptions) (*Handle, error) {
	subject := Subject{
		"proofHashes": hashes,
		"circuitId":   circuitID,
		"count":       len(hashes),
		"issuedAtMs":  time.Now().UnixMilli(),
	}
	return c.engine.Generate(ctx, subject, circuitID, GenerateOptions{DisableCompression: opts.DisableCompression})
}

type queuedItem struct {
	subject   Subject
	circuitID string
	opts      GenerateOptions
	done      chan itemResult
}

type itemResult struct {
	handle *Handle
	err    error
}

// Enqueue adds the subject to the accumulation queue for (circuit,
// optimization) and blocks until its batch flushes and the item is
// processed. The queue auto-flushes once ten items accumulate; this trades
// latency for throughput on write-heavy producers.
func (c *Coordinator) Enqueue(ctx context.Context, subject Subject, circuitID string, opts GenerateOptions) (*Handle, error) {
	if !c.engine.Registry().Known(circuitID) {
		return nil, xerrors.Wrap(CodeUnknownCircuit, ErrUnknownCircuit, fmt.Sprintf("circuit %q is not registered", circuitID))
	}

	item := &queuedItem{subject: subject, circuitID: circuitID, opts: opts, done: make(chan itemResult, 1)}
	key := circuitID + "|" + opts.Optimization

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeQueueFailure, "batch coordinator is closed")
	}
	c.pending[key] = append(c.pending[key], item)
	var flushItems []*queuedItem
	if len(c.pending[key]) >= accumulateFlushSize {
		flushItems = c.pending[key]
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if flushItems != nil {
		go c.flush(flushItems)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-item.done:
		return res.handle, res.err
	}
}

// flush generates the accumulated items as one batch and hands every waiter
// the result correlated to its own subject. Every item is generated with the
// options its own caller enqueued, so compression settings survive grouping.
func (c *Coordinator) flush(items []*queuedItem) {
	// Items are correlated individually so one bad subject cannot poison the
	// rest of the flush.
	handles := make([]*Handle, len(items))
	errs := make([]error, len(items))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			handles[i], errs[i] = c.engine.Generate(c.flushCtx, item.subject, item.circuitID, item.opts)
		}()
	}
	wg.Wait()

	for i, item := range items {
		item.done <- itemResult{handle: handles[i], err: errs[i]}
	}
}

func (c *Coordinator) lingerLoop() {
	defer c.flushWG.Done()
	ticker := time.NewTicker(c.linger)
	defer ticker.Stop()
	for {
		select {
		case <-c.flushCtx.Done():
			return
		case <-ticker.C:
			c.FlushPending()
		}
	}
}

// FlushPending force-flushes every partially filled accumulation queue.
func (c *Coordinator) FlushPending() {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[string][]*queuedItem)
	c.mu.Unlock()

	for _, items := range drained {
		go c.flush(items)
	}
}

// Close flushes outstanding items and stops the linger task. Enqueue calls
// after Close fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	drained := c.pending
	c.pending = make(map[string][]*queuedItem)
	c.mu.Unlock()

	for _, items := range drained {
		c.flush(items)
	}
	c.flushCancel()
	c.flushWG.Wait()
}
