package proofjob

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ZKCipherAI/internal/errors"
	"ZKCipherAI/internal/proof"
	"ZKCipherAI/pkg/logger"
)

// SubmitRequest describes a new proof job. A non-empty ID makes the submit
// idempotent: resubmitting an existing id returns the stored job.
type SubmitRequest struct {
	ID        string                `json:"id,omitempty"`
	CircuitID string                `json:"circuit_id"`
	Subject   proof.Subject         `json:"subject"`
	Options   proof.GenerateOptions `json:"options"`
	Anchor    bool                  `json:"anchor"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
}

// Service creates and queries proof jobs.
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService builds the job service.
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit creates a job and publishes it to the queue.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if strings.TrimSpace(req.CircuitID) == "" {
		return nil, xerrors.New(CodeJobValidation, "circuit id must not be empty")
	}
	if len(req.Subject) == 0 {
		return nil, xerrors.New(CodeJobValidation, "subject must not be empty")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "job service not initialised")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:         jobID,
		CircuitID:  req.CircuitID,
		Subject:    cloneSubject(req.Subject),
		Options:    req.Options,
		Anchor:     req.Anchor,
		Metadata:   cloneMetadata(req.Metadata),
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("enqueue job failed", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "publish job to queue")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("proof job enqueued",
		slog.String("job_id", jobID),
		slog.String("circuit_id", job.CircuitID),
		slog.Bool("anchor", job.Anchor),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get returns the current state of a job.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "job store not initialised")
	}
	return s.store.Get(ctx, id)
}

// List returns jobs matching the filter options.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "job store not initialised")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats returns aggregate counts for jobs matching the filter options.
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "job store not initialised")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close releases the store and producer.
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted polls the job until it reaches a terminal state or
// the context expires.
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
