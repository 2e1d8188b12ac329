package proofjob

import (
	"context"
)

// Handler processes a job id delivered by the queue.
type Handler func(ctx context.Context, jobID string) error

// Producer publishes job ids to the queue.
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// Consumer drains job ids from the queue.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue combines both ends.
type Queue interface {
	Producer
	Consumer
}
