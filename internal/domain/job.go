package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidJob is wrapped by every Validate failure other than a missing ID.
var ErrInvalidJob = errors.New("invalid job")

// ExecutorType defines the type of the job executor.
type ExecutorType string

const (
	ExecutorTypeHTTP  ExecutorType = "http"
	ExecutorTypeShell ExecutorType = "shell"
)

// JobExecutor represents the action to be performed when a job runs.
type JobExecutor struct {
	URL     string `json:"url,omitempty"`     // For HTTP executor
	Method  string `json:"method,omitempty"`  // For HTTP executor
	Command string `json:"command,omitempty"` // For Shell executor
}

// RetryPolicy defines the retry strategy for a job upon failure.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff"`
}

// DefaultQueue receives jobs whose spec names no queue.
const DefaultQueue = "default"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// JobSpec is a prepared, not yet persisted job. ID may be left empty to get a
// generated one. A nil ResultTTL means "use the configured default".
type JobSpec struct {
	ID           string
	Queue        string
	Description  string
	ExecutorType ExecutorType
	Executor     JobExecutor
	RetryPolicy  *RetryPolicy
	TTL          time.Duration
	ResultTTL    *time.Duration
}

// Job is one unit of asynchronous work.
//
// TTL bounds how long a job may wait in its queue. ResultTTL bounds how long a
// finished or failed job is kept: zero deletes it on completion, a negative
// value keeps it until explicitly deleted.
type Job struct {
	ID           string       `json:"id"`
	Queue        string       `json:"queue"`
	Description  string       `json:"description,omitempty"`
	ExecutorType ExecutorType `json:"executor_type"`
	Executor     JobExecutor  `json:"executor"`
	RetryPolicy  *RetryPolicy `json:"retry_policy,omitempty"`
	Status       JobStatus    `json:"status"`
	// BatchID is a weak back-reference to the owning batch, if any.
	BatchID   string        `json:"batch_id,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`
	ResultTTL time.Duration `json:"result_ttl"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	WorkerID  string        `json:"worker_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
}

// Validate checks if the job definition is valid.
func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrEmptyJobID
	}
	if j.Queue == "" {
		return fmt.Errorf("%w: job %s: queue name cannot be empty", ErrInvalidJob, j.ID)
	}
	switch j.ExecutorType {
	case ExecutorTypeHTTP:
		if j.Executor.URL == "" {
			return fmt.Errorf("%w: executor URL cannot be empty for http job", ErrInvalidJob)
		}
		if j.Executor.Method == "" {
			j.Executor.Method = "GET"
		}
	case ExecutorTypeShell:
		if j.Executor.Command == "" {
			return fmt.Errorf("%w: executor command cannot be empty for shell job", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown executor type %q", ErrInvalidJob, j.ExecutorType)
	}
	return nil
}

// IsFinished reports whether the job reached a terminal status.
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusFinished || j.Status == JobStatusFailed
}

// ExpiryTTL is the lifetime the store must enforce on the job record from the
// moment it is saved. Zero means the record does not expire.
func (j *Job) ExpiryTTL() time.Duration {
	if j.IsFinished() {
		if j.ResultTTL > 0 {
			return j.ResultTTL
		}
		return 0
	}
	if j.TTL > 0 {
		return j.TTL
	}
	return 0
}
