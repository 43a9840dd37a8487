package domain

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is a sentinel error returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	ErrEmptyJobID  = errors.New("job ID cannot be empty")
)

// JobRepository defines the interface for persisting and retrieving jobs.
// Records may disappear at any time once their ExpiryTTL elapses.
type JobRepository interface {
	// Save persists the job and (re)arms its expiry from job.ExpiryTTL.
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// GetMany returns the jobs that still exist, in the order of ids.
	// Missing ids are skipped, not reported.
	GetMany(ctx context.Context, ids []string) ([]*Job, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Delete removes the record and returns it as it was at removal time,
	// or ErrJobNotFound when there was nothing to remove.
	Delete(ctx context.Context, id string) (*Job, error)

	// UpdateStatus atomically applies fn to the stored job and returns the
	// result. Fields fn leaves alone, BatchID included, keep their stored
	// values, and the record keeps its remaining expiry.
	UpdateStatus(ctx context.Context, id string, fn func(job *Job)) (*Job, error)
	// Finish is UpdateStatus for a terminal transition: the expiry restarts
	// from the updated job's ExpiryTTL.
	Finish(ctx context.Context, id string, fn func(job *Job)) (*Job, error)

	// SetBatchID atomically points the job at batchID, keeping its remaining
	// expiry, and returns the batch id it pointed at before.
	SetBatchID(ctx context.Context, id, batchID string) (previous string, err error)
	// ClearBatchID unsets the batch id only if it still equals batchID.
	ClearBatchID(ctx context.Context, id, batchID string) (bool, error)
}
