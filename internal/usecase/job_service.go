package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"batch-queue/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobDefaults fills in what a JobSpec leaves unset.
type JobDefaults struct {
	TTL       time.Duration
	ResultTTL time.Duration
}

// JobService implements the job lifecycle. Deleting a job also removes it
// from its queue and from its batch's membership set.
type JobService struct {
	repo     domain.JobRepository
	sets     domain.SetStore
	queue    domain.Queue
	defaults JobDefaults
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewJobService creates a new JobService instance.
func NewJobService(repo domain.JobRepository, sets domain.SetStore, queue domain.Queue, defaults JobDefaults, logger *slog.Logger) *JobService {
	return &JobService{
		repo:     repo,
		sets:     sets,
		queue:    queue,
		defaults: defaults,
		logger:   logger.With("component", "job-service"),
		tracer:   otel.Tracer("batch-queue-usecase"),
	}
}

// NewJob builds and validates a queued job from spec without persisting it.
func (s *JobService) NewJob(spec domain.JobSpec) (*domain.Job, error) {
	job := &domain.Job{
		ID:           spec.ID,
		Queue:        spec.Queue,
		Description:  spec.Description,
		ExecutorType: spec.ExecutorType,
		Executor:     spec.Executor,
		RetryPolicy:  spec.RetryPolicy,
		Status:       domain.JobStatusQueued,
		TTL:          spec.TTL,
		ResultTTL:    s.defaults.ResultTTL,
		CreatedAt:    time.Now().UTC(),
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Queue == "" {
		job.Queue = domain.DefaultQueue
	}
	if job.TTL == 0 {
		job.TTL = s.defaults.TTL
	}
	if spec.ResultTTL != nil {
		job.ResultTTL = *spec.ResultTTL
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Create builds a job from spec and persists it. It does not enqueue it.
func (s *JobService) Create(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	job, err := s.NewJob(spec)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *JobService) Save(ctx context.Context, job *domain.Job) error {
	ctx, span := s.tracer.Start(ctx, "service.SaveJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID))

	if err := s.repo.Save(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save job to repository")
		return err
	}
	return nil
}

// Get returns a job, or domain.ErrJobNotFound once it was deleted or expired.
func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	if id == "" {
		return nil, domain.ErrEmptyJobID
	}
	job, err := s.repo.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from repository")
	}
	return job, err
}

// Delete removes the job record, its queue entry and its batch membership.
// Cleanup follows the record as it was when removed, so a batch the job
// joined after the caller last read it is cleaned up too.
func (s *JobService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	if id == "" {
		return domain.ErrEmptyJobID
	}
	return s.delete(ctx, id)
}

func (s *JobService) delete(ctx context.Context, id string) error {
	span := trace.SpanFromContext(ctx)

	job, err := s.repo.Delete(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete job from repository")
		}
		return err
	}
	if !job.IsFinished() {
		if err := s.queue.Remove(ctx, job.Queue, job.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to remove job from queue")
			return fmt.Errorf("job %s deleted but still queued on %s: %w", job.ID, job.Queue, err)
		}
	}
	if job.BatchID != "" {
		if err := s.sets.Remove(ctx, domain.BatchKey(job.BatchID), job.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to remove job from batch")
			return fmt.Errorf("job %s deleted but still listed in batch %s: %w", job.ID, job.BatchID, err)
		}
	}
	s.logger.Info("deleted job", "job_id", job.ID, "batch_id", job.BatchID)
	return nil
}

// Start marks the job as picked up by workerID. Only the status fields are
// written; job is then replaced by the stored record, so a batch the job
// joined after it was dequeued is kept.
func (s *JobService) Start(ctx context.Context, job *domain.Job, workerID string) error {
	ctx, span := s.tracer.Start(ctx, "service.StartJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID))

	startedAt := time.Now().UTC()
	stored, err := s.repo.UpdateStatus(ctx, job.ID, func(j *domain.Job) {
		j.Status = domain.JobStatusStarted
		j.StartedAt = startedAt
		j.WorkerID = workerID
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark job started")
		return err
	}
	*job = *stored
	return nil
}

// Complete records the outcome of an execution. The stored record then lives
// for the job's ResultTTL; a zero ResultTTL deletes it right away. Like Start,
// only the outcome fields are written and job is refreshed from the store.
func (s *JobService) Complete(ctx context.Context, job *domain.Job, output string, execErr error) error {
	ctx, span := s.tracer.Start(ctx, "service.CompleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID))

	endedAt := time.Now().UTC()
	record := func(j *domain.Job) {
		j.EndedAt = endedAt
		j.Output = output
		if execErr != nil {
			j.Status = domain.JobStatusFailed
			j.Error = execErr.Error()
		} else {
			j.Status = domain.JobStatusFinished
		}
	}

	var (
		stored *domain.Job
		err    error
	)
	if job.ResultTTL == 0 {
		// About to be deleted; keep the current expiry in case the delete fails.
		stored, err = s.repo.UpdateStatus(ctx, job.ID, record)
	} else {
		stored, err = s.repo.Finish(ctx, job.ID, record)
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		s.logger.Warn("job vanished while running, not storing result", "job_id", job.ID)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store job result")
		return err
	}
	*job = *stored

	if stored.ResultTTL == 0 {
		err := s.delete(ctx, stored.ID)
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		return err
	}
	return nil
}
