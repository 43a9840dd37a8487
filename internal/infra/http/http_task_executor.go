package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"batch-queue/internal/domain"
)

// Headers set on every outgoing request so the target can correlate calls.
const (
	HeaderJobID   = "X-Batchq-Job-Id"
	HeaderBatchID = "X-Batchq-Batch-Id"
)

// maxOutputBytes caps how much of the response body becomes job output.
const maxOutputBytes = 4096

// errServer marks 5xx responses, which are worth retrying.
var errServer = errors.New("http request returned 5xx server error")

type httpTaskExecutor struct {
	client *http.Client
	sleep  func(time.Duration)
}

func NewHttpTaskExecutor() domain.TaskExecutor {
	return &httpTaskExecutor{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		sleep: time.Sleep,
	}
}

// Execute initiates an HTTP request and retries timeouts and 5xx responses
// according to the job's retry policy.
func (e *httpTaskExecutor) Execute(ctx context.Context, job *domain.Job) (string, error) {
	if job.RetryPolicy == nil || job.RetryPolicy.MaxRetries == 0 {
		return e.doExecute(ctx, job)
	}

	var (
		lastErr error
		output  string
	)
	for i := 0; i <= job.RetryPolicy.MaxRetries; i++ {
		var err error
		output, err = e.doExecute(ctx, job)
		if err == nil {
			return output, nil
		}
		lastErr = err

		var netErr net.Error
		retriable := errors.Is(err, errServer) || (errors.As(err, &netErr) && netErr.Timeout())
		if !retriable {
			return output, fmt.Errorf("non-retriable error on attempt %d: %w", i+1, err)
		}

		if i == job.RetryPolicy.MaxRetries {
			break
		}
		e.sleep(job.RetryPolicy.Backoff)
	}

	return output, fmt.Errorf("job failed after %d retries: %w", job.RetryPolicy.MaxRetries, lastErr)
}

// doExecute performs a single HTTP request execution.
func (e *httpTaskExecutor) doExecute(ctx context.Context, job *domain.Job) (string, error) {
	req, err := http.NewRequestWithContext(ctx, job.Executor.Method, job.Executor.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set(HeaderJobID, job.ID)
	if job.BatchID != "" {
		req.Header.Set(HeaderBatchID, job.BatchID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))

	if resp.StatusCode >= 500 {
		return string(bodyBytes), fmt.Errorf("%w: %s", errServer, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return string(bodyBytes), fmt.Errorf("http request returned 4xx client error: %s", resp.Status)
	}

	return string(bodyBytes), nil
}
