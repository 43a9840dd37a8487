// internal/worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"batch-queue/internal/domain"
	"batch-queue/internal/metrics"
	"batch-queue/internal/usecase"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPollInterval is how long an idle worker waits before polling again.
const DefaultPollInterval = time.Second

// WorkOptions controls a Work loop.
type WorkOptions struct {
	// Burst stops the loop as soon as every queue is empty.
	Burst bool
	// MaxJobs stops the loop after this many jobs; zero means no limit.
	MaxJobs int
}

// Worker pulls jobs from its queues, in order of preference, and executes them.
type Worker struct {
	id           string
	queues       []string
	queue        domain.Queue
	jobs         *usecase.JobService
	maintenance  *usecase.MaintenanceService
	locker       domain.Locker
	executors    map[domain.ExecutorType]domain.TaskExecutor
	pollInterval time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// NewWorker creates a worker identified by workerID.
func NewWorker(
	workerID string,
	queues []string,
	queue domain.Queue,
	jobs *usecase.JobService,
	maintenance *usecase.MaintenanceService,
	locker domain.Locker,
	executors map[domain.ExecutorType]domain.TaskExecutor,
	logger *slog.Logger,
	opts ...Option,
) *Worker {
	w := &Worker{
		id:           workerID,
		queues:       queues,
		queue:        queue,
		jobs:         jobs,
		maintenance:  maintenance,
		locker:       locker,
		executors:    executors,
		pollInterval: DefaultPollInterval,
		logger:       logger.With("component", "worker", "worker_id", workerID),
		tracer:       otel.Tracer("batch-queue-worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Work processes jobs until ctx is cancelled or opts say to stop. It returns
// the number of jobs processed. Failed jobs are counted, not returned as errors.
func (w *Worker) Work(ctx context.Context, opts WorkOptions) (int, error) {
	w.logger.Info("worker started", "queues", w.queues, "burst", opts.Burst)

	processed := 0
	for {
		if ctx.Err() != nil {
			return processed, nil
		}
		if opts.MaxJobs > 0 && processed >= opts.MaxJobs {
			return processed, nil
		}

		job, err := w.dequeue(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			if opts.Burst {
				w.logger.Info("queues empty, burst finished", "processed", processed)
				return processed, nil
			}
			select {
			case <-ctx.Done():
				return processed, nil
			case <-time.After(w.pollInterval):
			}
			continue
		}

		if err := w.ProcessJob(ctx, job); err != nil {
			return processed, err
		}
		processed++
	}
}

// dequeue returns the next job that still exists, or nil when every queue is empty.
func (w *Worker) dequeue(ctx context.Context) (*domain.Job, error) {
	for _, name := range w.queues {
		for {
			id, err := w.queue.Dequeue(ctx, name)
			if err != nil {
				return nil, err
			}
			if id == "" {
				break
			}
			job, err := w.jobs.Get(ctx, id)
			if errors.Is(err, domain.ErrJobNotFound) {
				w.logger.Warn("skipping job that expired or was deleted while queued", "job_id", id, "queue", name)
				continue
			}
			if err != nil {
				return nil, err
			}
			return job, nil
		}
	}
	return nil, nil
}

// ProcessJob executes one job and stores its outcome. Only store failures are
// returned; an execution failure is recorded on the job.
func (w *Worker) ProcessJob(ctx context.Context, job *domain.Job) error {
	ctx, span := w.tracer.Start(ctx, "worker.ProcessJob",
		trace.WithAttributes(attribute.String("job.id", job.ID), attribute.String("job.queue", job.Queue)))
	defer span.End()

	logger := w.logger.With("job_id", job.ID, "batch_id", job.BatchID)

	if err := w.jobs.Start(ctx, job, w.id); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			logger.Warn("job deleted before it could start, skipping")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark job started")
		return err
	}

	logger.Info("executing job")
	output, execErr := w.execute(ctx, job)

	status := domain.JobStatusFinished
	if execErr != nil {
		status = domain.JobStatusFailed
		logger.Warn("job execution failed", "error", execErr)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "job execution failed")
	}
	metrics.JobExecutionTotal.WithLabelValues(job.Queue, string(status)).Inc()

	if err := w.jobs.Complete(ctx, job, output, execErr); err != nil {
		logger.Error("failed to store job result", "error", err)
		span.RecordError(err)
		return err
	}
	return nil
}

// execute runs the job's executor, turning a panic into an error.
func (w *Worker) execute(ctx context.Context, job *domain.Job) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	executor, ok := w.executors[job.ExecutorType]
	if !ok {
		return "", fmt.Errorf("no executor found for type: %s", job.ExecutorType)
	}
	return executor.Execute(ctx, job)
}

// RunMaintenanceTasks runs one registry maintenance pass unless another
// worker is already running one.
func (w *Worker) RunMaintenanceTasks(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "worker.RunMaintenanceTasks")
	defer span.End()

	lock, err := w.locker.Lock(ctx, domain.MaintenanceLockName)
	if errors.Is(err, domain.ErrLockNotAcquired) {
		w.logger.Debug("maintenance already running elsewhere, skipping")
		span.AddEvent("skipped_maintenance", trace.WithAttributes(attribute.String("reason", "lock_not_acquired")))
		metrics.MaintenanceRunsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		span.RecordError(err)
		metrics.MaintenanceRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			w.logger.Error("failed to release maintenance lock", "error", err)
		}
	}()

	if _, err := w.maintenance.Run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "maintenance failed")
		metrics.MaintenanceRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.MaintenanceRunsTotal.WithLabelValues("ok").Inc()
	return nil
}
