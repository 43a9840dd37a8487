package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"batch-queue/internal/domain"
	"batch-queue/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BatchService creates, extends and reads batches.
//
// Membership lives in a set keyed by batch.Key(); each member job carries the
// batch id as a back-reference. Reads resolve member ids against the job
// repository and drop ids whose job is gone, so expired and deleted jobs are
// never surfaced even before maintenance removes them from the set.
type BatchService struct {
	sets     domain.SetStore
	batches  domain.BatchRepository
	jobs     domain.JobRepository
	registry *BatchRegistry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewBatchService creates a new BatchService instance.
func NewBatchService(sets domain.SetStore, batches domain.BatchRepository, jobs domain.JobRepository, logger *slog.Logger) *BatchService {
	return &BatchService{
		sets:     sets,
		batches:  batches,
		jobs:     jobs,
		registry: NewBatchRegistry(sets),
		logger:   logger.With("component", "batch-service"),
		tracer:   otel.Tracer("batch-queue-usecase"),
	}
}

// Registry exposes the set of live batch ids.
func (s *BatchService) Registry() *BatchRegistry {
	return s.registry
}

// Create persists a new batch, registers it and adds jobs to it. The
// returned batch's Jobs are the given jobs; the store is not re-read.
func (s *BatchService) Create(ctx context.Context, jobs []*domain.Job) (*domain.Batch, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateBatch")
	defer span.End()

	if len(jobs) == 0 {
		return nil, domain.ErrNoJobs
	}

	batch := &domain.Batch{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
	span.SetAttributes(attribute.String("batch.id", batch.ID), attribute.Int("batch.jobs", len(jobs)))

	if err := s.batches.Save(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save batch")
		return nil, err
	}
	if err := s.registry.Add(ctx, batch.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to register batch")
		return nil, err
	}
	if err := s.AddJobs(ctx, batch, jobs...); err != nil {
		return nil, err
	}

	metrics.BatchesCreatedTotal.Inc()
	s.logger.Info("created batch", "batch_id", batch.ID, "jobs", len(jobs))
	return batch, nil
}

// AddJobs links jobs to the batch. A job that belonged to another batch is
// moved: its id leaves the previous batch's set. The jobs are appended to
// batch.Jobs without re-reading the store.
func (s *BatchService) AddJobs(ctx context.Context, batch *domain.Batch, jobs ...*domain.Job) error {
	ctx, span := s.tracer.Start(ctx, "service.AddJobs")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", batch.ID), attribute.Int("batch.added", len(jobs)))

	if len(jobs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		previous, err := s.jobs.SetBatchID(ctx, job.ID, batch.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to link job to batch")
			return fmt.Errorf("failed to link job %s to batch %s: %w", job.ID, batch.ID, err)
		}
		job.BatchID = batch.ID
		ids = append(ids, job.ID)

		if previous != "" && previous != batch.ID {
			if err := s.sets.Remove(ctx, domain.BatchKey(previous), job.ID); err != nil {
				span.RecordError(err)
				return fmt.Errorf("failed to unlink job %s from batch %s: %w", job.ID, previous, err)
			}
			s.logger.Info("moved job between batches", "job_id", job.ID, "from", previous, "to", batch.ID)
		}
	}

	if err := s.sets.Add(ctx, batch.Key(), ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add jobs to batch set")
		return err
	}
	// Re-register in case maintenance pruned the batch while it was empty.
	if err := s.registry.Add(ctx, batch.ID); err != nil {
		span.RecordError(err)
		return err
	}

	for _, job := range jobs {
		if !batch.Contains(job.ID) {
			batch.Jobs = append(batch.Jobs, job)
		}
	}
	return nil
}

// Fetch loads a registered batch and resolves its live jobs. It returns
// domain.ErrNoSuchBatch for ids that were never created or have been pruned.
func (s *BatchService) Fetch(ctx context.Context, id string) (*domain.Batch, error) {
	ctx, span := s.tracer.Start(ctx, "service.FetchBatch")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", id))

	registered, err := s.registry.Contains(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check batch registry")
		return nil, err
	}
	if !registered {
		return nil, domain.ErrNoSuchBatch
	}

	batch, err := s.batches.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNoSuchBatch):
		// Metadata can be gone when an add raced a prune; the registry decides.
		batch = &domain.Batch{ID: id}
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load batch")
		return nil, err
	}

	if err := s.Refresh(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// Refresh replaces batch.Jobs with the live jobs of its membership set.
// The persisted set is left untouched.
func (s *BatchService) Refresh(ctx context.Context, batch *domain.Batch) error {
	ctx, span := s.tracer.Start(ctx, "service.RefreshBatch")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", batch.ID))

	ids, err := s.sets.Members(ctx, batch.Key())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read batch members")
		return err
	}
	jobs, err := s.jobs.GetMany(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve batch members")
		return err
	}

	span.SetAttributes(attribute.Int("batch.members", len(ids)), attribute.Int("batch.live", len(jobs)))
	if stale := len(ids) - len(jobs); stale > 0 {
		s.logger.Debug("skipped stale batch members", "batch_id", batch.ID, "stale", stale)
	}
	batch.Jobs = jobs
	return nil
}

// All returns every registered batch. Batches pruned while listing are skipped.
func (s *BatchService) All(ctx context.Context) ([]*domain.Batch, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListBatches")
	defer span.End()

	ids, err := s.registry.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list batch registry")
		return nil, err
	}

	batches := make([]*domain.Batch, 0, len(ids))
	for _, id := range ids {
		batch, err := s.Fetch(ctx, id)
		if errors.Is(err, domain.ErrNoSuchBatch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// Delete dissolves the batch. Its jobs are kept; their back-reference is
// cleared where it still points at this batch.
func (s *BatchService) Delete(ctx context.Context, batch *domain.Batch) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteBatch")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", batch.ID))

	ids, err := s.sets.Members(ctx, batch.Key())
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, id := range ids {
		if _, err := s.jobs.ClearBatchID(ctx, id, batch.ID); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to unlink job")
			return fmt.Errorf("failed to unlink job %s from batch %s: %w", id, batch.ID, err)
		}
	}

	if err := s.registry.Remove(ctx, batch.ID); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.sets.Delete(ctx, batch.Key()); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.batches.Delete(ctx, batch.ID); err != nil {
		span.RecordError(err)
		return err
	}

	batch.Jobs = nil
	s.logger.Info("deleted batch", "batch_id", batch.ID, "members", len(ids))
	return nil
}
