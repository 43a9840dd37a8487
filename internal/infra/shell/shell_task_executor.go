// internal/infra/shell/shell_task_executor.go
package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"batch-queue/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds a single shell command.
	DefaultTimeout = 30 * time.Second
	// maxStderrInError caps how much stderr is copied into a failure message.
	maxStderrInError = 512
)

type shellTaskExecutor struct {
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures the shell executor.
type Option func(*shellTaskExecutor)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *shellTaskExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewShellTaskExecutor creates a domain.TaskExecutor running commands with sh -c.
func NewShellTaskExecutor(logger *slog.Logger, opts ...Option) domain.TaskExecutor {
	e := &shellTaskExecutor{
		timeout: DefaultTimeout,
		logger:  logger.With("executor_type", "shell"),
		tracer:  otel.Tracer("batch-queue-shell-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the command and returns its stdout. The job and batch ids are
// exported to the command as BATCHQ_JOB_ID and BATCHQ_BATCH_ID. On failure the
// tail of stderr is part of the returned error.
func (e *shellTaskExecutor) Execute(ctx context.Context, job *domain.Job) (string, error) {
	ctx, span := e.tracer.Start(ctx, "executor.shell.Execute",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.command", job.Executor.Command),
		))
	defer span.End()

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", job.Executor.Command)
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(), "BATCHQ_JOB_ID="+job.ID, "BATCHQ_BATCH_ID="+job.BatchID)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.logger.Debug("shell command returned", "job_id", job.ID, "duration", time.Since(start), "error", err)

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", e.timeout, err)
		}
		if tail := stderrTail(stderr.String()); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		span.SetStatus(codes.Error, "shell command failed")
		span.RecordError(err)
		return stdout.String(), fmt.Errorf("shell command failed: %w", err)
	}
	return stdout.String(), nil
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrInError {
		s = "..." + s[len(s)-maxStderrInError:]
	}
	return s
}
