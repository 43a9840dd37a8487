package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"batch-queue/internal/domain"
	"batch-queue/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// QueueService turns job specs into persisted, queued jobs.
type QueueService struct {
	jobs    *JobService
	batches *BatchService
	queue   domain.Queue
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewQueueService creates a new QueueService instance.
func NewQueueService(jobs *JobService, batches *BatchService, queue domain.Queue, logger *slog.Logger) *QueueService {
	return &QueueService{
		jobs:    jobs,
		batches: batches,
		queue:   queue,
		logger:  logger.With("component", "queue-service"),
		tracer:  otel.Tracer("batch-queue-usecase"),
	}
}

// Enqueue creates one job and pushes it onto its queue.
func (s *QueueService) Enqueue(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	_, jobs, err := s.EnqueueMany(ctx, []domain.JobSpec{spec}, false)
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// EnqueueMany creates a job per spec and pushes them all onto their queues.
//
// With batch set, the jobs are grouped into a new batch which is returned
// and the job slice is nil. Otherwise the created jobs are returned in spec
// order and the batch is nil. Every spec is validated before anything is
// written, and jobs are linked to the batch before any worker can see them.
func (s *QueueService) EnqueueMany(ctx context.Context, specs []domain.JobSpec, batch bool) (*domain.Batch, []*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "service.EnqueueMany")
	defer span.End()
	span.SetAttributes(attribute.Int("jobs.count", len(specs)), attribute.Bool("batch", batch))

	if len(specs) == 0 {
		return nil, nil, domain.ErrNoJobs
	}

	jobs := make([]*domain.Job, 0, len(specs))
	for i, spec := range specs {
		job, err := s.jobs.NewJob(spec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid job spec")
			return nil, nil, fmt.Errorf("job spec %d: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		if err := s.jobs.Save(ctx, job); err != nil {
			return nil, nil, err
		}
	}

	var b *domain.Batch
	if batch {
		var err error
		if b, err = s.batches.Create(ctx, jobs); err != nil {
			return nil, nil, err
		}
		span.SetAttributes(attribute.String("batch.id", b.ID))
	}

	for _, job := range jobs {
		if err := s.queue.Enqueue(ctx, job.Queue, job.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to push job")
			return nil, nil, err
		}
		metrics.JobsEnqueuedTotal.WithLabelValues(job.Queue).Inc()
	}

	if b != nil {
		return b, nil, nil
	}
	return nil, jobs, nil
}
