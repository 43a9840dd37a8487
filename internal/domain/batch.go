package domain

import (
	"context"
	"errors"
	"time"
)

const (
	// BatchKeyPrefix prefixes the membership set key of every batch.
	BatchKeyPrefix = "batch:"
	// RegistryKey names the set of all live batch ids.
	RegistryKey = "batches"
)

var (
	// ErrNoSuchBatch is returned when a batch was never created or has been pruned.
	ErrNoSuchBatch = errors.New("no such batch")
	ErrNoJobs      = errors.New("at least one job is required")
)

// Batch groups jobs under one identifier. Jobs is a view materialized from the
// membership set; its order is not meaningful.
type Batch struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Jobs      []*Job    `json:"jobs"`
}

// BatchKey returns the membership set key for a batch id.
func BatchKey(id string) string {
	return BatchKeyPrefix + id
}

// Key returns the membership set key of the batch.
func (b *Batch) Key() string {
	return BatchKey(b.ID)
}

// JobIDs returns the ids of the materialized jobs.
func (b *Batch) JobIDs() []string {
	ids := make([]string, 0, len(b.Jobs))
	for _, job := range b.Jobs {
		ids = append(ids, job.ID)
	}
	return ids
}

// Contains reports whether a job with the given id is in the materialized view.
func (b *Batch) Contains(jobID string) bool {
	for _, job := range b.Jobs {
		if job.ID == jobID {
			return true
		}
	}
	return false
}

// BatchRepository persists batch metadata. Membership lives in a SetStore.
type BatchRepository interface {
	Save(ctx context.Context, batch *Batch) error
	// Get returns the stored metadata with Jobs left empty, or ErrNoSuchBatch.
	Get(ctx context.Context, id string) (*Batch, error)
	Delete(ctx context.Context, id string) error
}
