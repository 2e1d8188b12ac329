package proofjob

import "context"

// RecoveryHandler decides what happens when a job fails with a
// non-retryable error.
type RecoveryHandler interface {
	// Recover may produce a degraded result to record in place of the
	// failure. Returning nil, nil means the normal failure path applies.
	Recover(ctx context.Context, job *Job, cause error) (*JobResult, error)
}
