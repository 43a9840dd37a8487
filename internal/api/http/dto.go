package http

import (
	"time"

	"batch-queue/internal/domain"
)

// ExecutorRequest is the DTO for executor configuration.
type ExecutorRequest struct {
	URL     string `json:"url"`
	Method  string `json:"method"`
	Command string `json:"command"`
}

// RetryPolicyRequest is the DTO for retry policy configuration.
type RetryPolicyRequest struct {
	MaxRetries int    `json:"max_retries" validate:"gte=0,lte=10"`
	Backoff    string `json:"backoff" validate:"omitempty,duration"`
}

// JobRequest describes one job to enqueue.
type JobRequest struct {
	ID           string              `json:"id" validate:"omitempty,max=128,excludesall=/"`
	Queue        string              `json:"queue" validate:"omitempty,max=64,excludesall=/"`
	Description  string              `json:"description" validate:"max=512"`
	ExecutorType string              `json:"executor_type" validate:"required,oneof=http shell"`
	Executor     ExecutorRequest     `json:"executor" validate:"required"`
	RetryPolicy  *RetryPolicyRequest `json:"retry_policy,omitempty" validate:"omitempty"`
	TTL          string              `json:"ttl" validate:"omitempty,duration"`
	// ResultTTL accepts "0" to drop results immediately and "-1s" to keep them forever.
	ResultTTL *string `json:"result_ttl,omitempty" validate:"omitempty,duration"`
}

// EnqueueRequest is the body of POST /batches.
type EnqueueRequest struct {
	Jobs  []JobRequest `json:"jobs" validate:"required,min=1,dive"`
	Batch bool         `json:"batch"`
}

// AddJobsRequest is the body of POST /batches/{id}/jobs.
type AddJobsRequest struct {
	JobIDs []string `json:"job_ids" validate:"required,min=1,dive,required"`
}

// BatchResponse is the JSON view of a batch and its live jobs.
type BatchResponse struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Jobs      []*domain.Job `json:"jobs"`
}

// EnqueueResponse carries the created batch, or the created jobs when no
// batch was requested.
type EnqueueResponse struct {
	Batch *BatchResponse `json:"batch,omitempty"`
	Jobs  []*domain.Job  `json:"jobs,omitempty"`
}

// ToJobSpec converts a validated JobRequest to a domain.JobSpec.
func (r *JobRequest) ToJobSpec() domain.JobSpec {
	var retryPolicy *domain.RetryPolicy
	if r.RetryPolicy != nil {
		backoff, _ := time.ParseDuration(r.RetryPolicy.Backoff)
		retryPolicy = &domain.RetryPolicy{
			MaxRetries: r.RetryPolicy.MaxRetries,
			Backoff:    backoff,
		}
	}

	// Normalize executor based on type
	executor := domain.JobExecutor{}
	executorType := domain.ExecutorType(r.ExecutorType)
	switch executorType {
	case domain.ExecutorTypeHTTP:
		executor.URL = r.Executor.URL
		executor.Method = r.Executor.Method
	case domain.ExecutorTypeShell:
		executor.Command = r.Executor.Command
	}

	spec := domain.JobSpec{
		ID:           r.ID,
		Queue:        r.Queue,
		Description:  r.Description,
		ExecutorType: executorType,
		Executor:     executor,
		RetryPolicy:  retryPolicy,
	}
	if r.TTL != "" {
		spec.TTL, _ = time.ParseDuration(r.TTL)
	}
	if r.ResultTTL != nil {
		resultTTL, _ := time.ParseDuration(*r.ResultTTL)
		spec.ResultTTL = &resultTTL
	}
	return spec
}

func newBatchResponse(b *domain.Batch) *BatchResponse {
	jobs := b.Jobs
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	return &BatchResponse{ID: b.ID, CreatedAt: b.CreatedAt, Jobs: jobs}
}
