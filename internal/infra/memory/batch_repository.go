package memory

import (
	"context"
	"sync"

	"batch-queue/internal/domain"
)

var _ domain.BatchRepository = (*BatchRepository)(nil)

// BatchRepository keeps batch metadata.
type BatchRepository struct {
	mu      sync.RWMutex
	batches map[string]domain.Batch
}

// NewBatchRepository creates an empty batch repository.
func NewBatchRepository() *BatchRepository {
	return &BatchRepository{batches: make(map[string]domain.Batch)}
}

func (r *BatchRepository) Save(_ context.Context, batch *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches[batch.ID] = domain.Batch{ID: batch.ID, CreatedAt: batch.CreatedAt}
	return nil
}

func (r *BatchRepository) Get(_ context.Context, id string) (*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNoSuchBatch
	}
	return &b, nil
}

func (r *BatchRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.batches, id)
	return nil
}
