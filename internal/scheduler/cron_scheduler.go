// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"batch-queue/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// cronScheduler runs named periodic tasks. A task still running when its next
// tick arrives is skipped for that tick.
type cronScheduler struct {
	cron   *cron.Cron
	tasks  map[string]cron.EntryID
	mu     sync.Mutex
	ctx    context.Context
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCronScheduler creates a scheduler using standard cron specs and
// descriptors such as "@every 1m".
func NewCronScheduler(logger *slog.Logger) domain.Schedular {
	return &cronScheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		tasks:  make(map[string]cron.EntryID),
		ctx:    context.Background(),
		logger: logger.With("component", "cron-scheduler"),
		tracer: otel.Tracer("batch-queue-scheduler"),
	}
}

// Start runs the scheduler until ctx is cancelled, then waits for running
// tasks to return. Tasks receive ctx.
func (s *cronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("cron scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

// AddTask schedules task under name, replacing any task with the same name.
func (s *cronScheduler) AddTask(name, spec string, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
	}

	wrapper := &cronTaskWrapper{
		name:      name,
		task:      task,
		scheduler: s,
		logger:    s.logger.With("task", name),
	}

	entryID, err := s.cron.AddJob(spec, wrapper)
	if err != nil {
		s.logger.Error("failed to add task to cron", "task", name, "error", err)
		return fmt.Errorf("invalid schedule %q for task %s: %w", spec, name, err)
	}

	s.tasks[name] = entryID
	s.logger.Info("added task to scheduler", "task", name, "schedule", spec)
	return nil
}

// RemoveTask removes a task from the scheduler.
func (s *cronScheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		s.logger.Info("removed task from scheduler", "task", name)
	}
	return nil
}

func (s *cronScheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

type cronTaskWrapper struct {
	name      string
	task      domain.Task
	scheduler *cronScheduler
	logger    *slog.Logger
}

// Run is called by the cron library.
func (w *cronTaskWrapper) Run() {
	ctx, span := w.scheduler.tracer.Start(w.scheduler.baseContext(), "scheduler.RunTask",
		trace.WithAttributes(attribute.String("task.name", w.name)))
	defer span.End()

	if err := w.task(ctx); err != nil {
		w.logger.Error("scheduled task failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "scheduled task failed")
	}
}
