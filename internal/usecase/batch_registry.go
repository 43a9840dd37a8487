package usecase

import (
	"context"
	"fmt"

	"batch-queue/internal/domain"
)

// BatchRegistry is the set of live batch ids, stored under domain.RegistryKey.
// Presence means the batch was created and not yet pruned for being empty.
type BatchRegistry struct {
	sets domain.SetStore
}

// NewBatchRegistry creates a registry on top of sets.
func NewBatchRegistry(sets domain.SetStore) *BatchRegistry {
	return &BatchRegistry{sets: sets}
}

func (r *BatchRegistry) Add(ctx context.Context, id string) error {
	if err := r.sets.Add(ctx, domain.RegistryKey, id); err != nil {
		return fmt.Errorf("failed to register batch %s: %w", id, err)
	}
	return nil
}

func (r *BatchRegistry) Remove(ctx context.Context, id string) error {
	if err := r.sets.Remove(ctx, domain.RegistryKey, id); err != nil {
		return fmt.Errorf("failed to unregister batch %s: %w", id, err)
	}
	return nil
}

func (r *BatchRegistry) Contains(ctx context.Context, id string) (bool, error) {
	ok, err := r.sets.IsMember(ctx, domain.RegistryKey, id)
	if err != nil {
		return false, fmt.Errorf("failed to look up batch %s: %w", id, err)
	}
	return ok, nil
}

// List returns every registered batch id in no particular order.
func (r *BatchRegistry) List(ctx context.Context) ([]string, error) {
	ids, err := r.sets.Members(ctx, domain.RegistryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return ids, nil
}
