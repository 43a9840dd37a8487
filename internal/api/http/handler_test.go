package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"batch-queue/internal/domain"
	"batch-queue/internal/infra/memory"
	"batch-queue/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	workers []domain.WorkerInfo
}

func (f *fakeDirectory) List(context.Context) ([]domain.WorkerInfo, error) {
	return f.workers, nil
}

type apiEnv struct {
	mux     *http.ServeMux
	jobs    *usecase.JobService
	batches *usecase.BatchService
	queue   *usecase.QueueService
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sets := memory.NewSetStore()
	jobRepo := memory.NewJobRepository()
	q := memory.NewQueue()

	env := &apiEnv{mux: http.NewServeMux()}
	env.jobs = usecase.NewJobService(jobRepo, sets, q, usecase.JobDefaults{ResultTTL: 500 * time.Second}, logger)
	env.batches = usecase.NewBatchService(sets, memory.NewBatchRepository(), jobRepo, logger)
	env.queue = usecase.NewQueueService(env.jobs, env.batches, q, logger)

	workers := &fakeDirectory{workers: []domain.WorkerInfo{{ID: "w1", Queues: []string{"default"}}}}
	NewHandler(env.queue, env.batches, env.jobs, workers, logger).RegisterRoutes(env.mux)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func shellJob(id string) map[string]any {
	return map[string]any{
		"id":            id,
		"executor_type": "shell",
		"executor":      map[string]any{"command": "echo hello"},
	}
}

func TestHandler_EnqueueBatch(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/batches", map[string]any{
		"batch": true,
		"jobs":  []any{shellJob("a"), shellJob("b")},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Batch)
	assert.Len(t, resp.Batch.Jobs, 2)
	assert.Empty(t, resp.Jobs)

	rec = env.do(t, http.MethodGet, "/batches/"+resp.Batch.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, resp.Batch.ID, fetched.ID)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{fetched.Jobs[0].ID, fetched.Jobs[1].ID})
	assert.Equal(t, resp.Batch.ID, fetched.Jobs[0].BatchID)
}

func TestHandler_EnqueueWithoutBatch(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/batches", map[string]any{
		"jobs": []any{shellJob("a")},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Batch)
	require.Len(t, resp.Jobs, 1)
	assert.Empty(t, resp.Jobs[0].BatchID)

	rec = env.do(t, http.MethodGet, "/batches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandler_EnqueueValidation(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"no jobs", map[string]any{"jobs": []any{}}},
		{"bad executor type", map[string]any{"jobs": []any{
			map[string]any{"executor_type": "ftp", "executor": map[string]any{}},
		}}},
		{"bad ttl", map[string]any{"jobs": []any{
			map[string]any{"executor_type": "shell", "executor": map[string]any{"command": "true"}, "ttl": "soon"},
		}}},
		{"missing command", map[string]any{"jobs": []any{
			map[string]any{"executor_type": "shell", "executor": map[string]any{}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/batches", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_UnknownBatchIs404(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/batches/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/batches/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodPost, "/batches/nope/jobs", map[string]any{"job_ids": []string{"a"}}).Code)
}

func TestHandler_AddJobsToBatch(t *testing.T) {
	ctx := context.Background()
	env := newAPIEnv(t)

	batch, _, err := env.queue.EnqueueMany(ctx, []domain.JobSpec{{
		ID: "a", ExecutorType: domain.ExecutorTypeShell, Executor: domain.JobExecutor{Command: "true"},
	}}, true)
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, domain.JobSpec{
		ID: "b", ExecutorType: domain.ExecutorTypeShell, Executor: domain.JobExecutor{Command: "true"},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/batches/"+batch.ID+"/jobs", map[string]any{"job_ids": []string{"b"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	job, err := env.jobs.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, batch.ID, job.BatchID)

	rec = env.do(t, http.MethodPost, "/batches/"+batch.ID+"/jobs", map[string]any{"job_ids": []string{"ghost"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_DeleteBatchAndJob(t *testing.T) {
	ctx := context.Background()
	env := newAPIEnv(t)

	batch, _, err := env.queue.EnqueueMany(ctx, []domain.JobSpec{{
		ID: "a", ExecutorType: domain.ExecutorTypeShell, Executor: domain.JobExecutor{Command: "true"},
	}}, true)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/batches/"+batch.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/batches/"+batch.ID, nil).Code)

	rec := env.do(t, http.MethodGet, "/jobs/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Empty(t, job.BatchID, "deleting a batch keeps its jobs but unlinks them")

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/jobs/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/jobs/a", nil).Code)
}

func TestHandler_ListWorkers(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var workers []domain.WorkerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, "w1", workers[0].ID)
}
