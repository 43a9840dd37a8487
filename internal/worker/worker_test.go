package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"batch-queue/internal/domain"
	"batch-queue/internal/infra/memory"
	"batch-queue/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	output string
	err    error
	panic  bool
	calls  []string
}

func (f *fakeExecutor) Execute(_ context.Context, job *domain.Job) (string, error) {
	f.calls = append(f.calls, job.ID)
	if f.panic {
		panic("boom")
	}
	return f.output, f.err
}

type harness struct {
	now     time.Time
	jobRepo *memory.JobRepository
	q       *memory.Queue
	locker  *memory.Locker
	exec    *fakeExecutor
	jobs    *usecase.JobService
	batches *usecase.BatchService
	queue   *usecase.QueueService
	worker  *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	sets := memory.NewSetStore()
	batchRepo := memory.NewBatchRepository()
	h.jobRepo = memory.NewJobRepository(memory.WithClock(clock))
	h.q = memory.NewQueue()
	h.locker = memory.NewLocker()
	h.exec = &fakeExecutor{output: "hello"}

	h.jobs = usecase.NewJobService(h.jobRepo, sets, h.q, usecase.JobDefaults{ResultTTL: 500 * time.Second}, logger)
	h.batches = usecase.NewBatchService(sets, batchRepo, h.jobRepo, logger)
	h.queue = usecase.NewQueueService(h.jobs, h.batches, h.q, logger)
	maintenance := usecase.NewMaintenanceService(sets, batchRepo, h.jobRepo, 2, logger)

	h.worker = NewWorker("worker-1", []string{"high", domain.DefaultQueue}, h.q, h.jobs, maintenance, h.locker,
		map[domain.ExecutorType]domain.TaskExecutor{domain.ExecutorTypeShell: h.exec}, logger,
		WithPollInterval(10*time.Millisecond))
	return h
}

func spec(id string) domain.JobSpec {
	return domain.JobSpec{
		ID:           id,
		ExecutorType: domain.ExecutorTypeShell,
		Executor:     domain.JobExecutor{Command: "echo hello"},
	}
}

func withResultTTL(s domain.JobSpec, ttl time.Duration) domain.JobSpec {
	s.ResultTTL = &ttl
	return s
}

func TestWorker_BurstProcessesAllQueuedJobs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, _, err := h.queue.EnqueueMany(ctx, []domain.JobSpec{spec("a"), spec("b")}, false)
	require.NoError(t, err)

	n, err := h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, h.exec.calls)

	job, err := h.jobs.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFinished, job.Status)
	assert.Equal(t, "hello", job.Output)
	assert.Equal(t, "worker-1", job.WorkerID)
}

func TestWorker_PrefersEarlierQueues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	low := spec("low")
	high := spec("high")
	high.Queue = "high"
	_, _, err := h.queue.EnqueueMany(ctx, []domain.JobSpec{low, high}, false)
	require.NoError(t, err)

	_, err = h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, h.exec.calls)
}

func TestWorker_MaxJobsStopsEarly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, _, err := h.queue.EnqueueMany(ctx, []domain.JobSpec{spec("a"), spec("b")}, false)
	require.NoError(t, err)

	n, err := h.worker.Work(ctx, WorkOptions{Burst: true, MaxJobs: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := h.q.Len(ctx, domain.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestWorker_ExecutionFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.exec.err = errors.New("exit status 1")

	_, err := h.queue.Enqueue(ctx, spec("a"))
	require.NoError(t, err)

	n, err := h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := h.jobs.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "exit status 1", job.Error)
}

func TestWorker_ExecutorPanicBecomesFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.exec.panic = true

	_, err := h.queue.Enqueue(ctx, spec("a"))
	require.NoError(t, err)

	_, err = h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)

	job, err := h.jobs.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "boom")
}

func TestWorker_UnknownExecutorType(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s := spec("a")
	s.ExecutorType = domain.ExecutorTypeHTTP
	s.Executor = domain.JobExecutor{URL: "http://localhost"}
	_, err := h.queue.Enqueue(ctx, s)
	require.NoError(t, err)

	_, err = h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)

	job, err := h.jobs.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "no executor found")
}

func TestWorker_SkipsJobsDeletedWhileQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, _, err := h.queue.EnqueueMany(ctx, []domain.JobSpec{spec("a"), spec("b")}, false)
	require.NoError(t, err)
	_, err = h.jobRepo.Delete(ctx, "a")
	require.NoError(t, err)

	n, err := h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, h.exec.calls)
}

func TestWorker_NonBurstStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n, err := h.worker.Work(ctx, WorkOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorker_ExpiredJobsLeaveBatchAfterRefresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	batch, _, err := h.queue.EnqueueMany(ctx, []domain.JobSpec{
		withResultTTL(spec("short"), time.Second),
		spec("long"),
	}, true)
	require.NoError(t, err)

	_, err = h.worker.Work(ctx, WorkOptions{Burst: true, MaxJobs: 1})
	require.NoError(t, err)
	h.now = h.now.Add(2 * time.Second)

	require.NoError(t, h.batches.Refresh(ctx, batch))
	assert.Equal(t, []string{"long"}, batch.JobIDs())
}

func TestWorker_MaintenancePrunesEmptyBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	batch, _, err := h.queue.EnqueueMany(ctx, []domain.JobSpec{withResultTTL(spec("a"), time.Second)}, true)
	require.NoError(t, err)

	_, err = h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)
	h.now = h.now.Add(3 * time.Second)

	require.NoError(t, h.worker.RunMaintenanceTasks(ctx))

	_, err = h.batches.Fetch(ctx, batch.ID)
	assert.ErrorIs(t, err, domain.ErrNoSuchBatch)
}

func TestWorker_MaintenanceSkippedWhileLockHeld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	batch, _, err := h.queue.EnqueueMany(ctx, []domain.JobSpec{withResultTTL(spec("a"), time.Second)}, true)
	require.NoError(t, err)
	_, err = h.worker.Work(ctx, WorkOptions{Burst: true})
	require.NoError(t, err)
	h.now = h.now.Add(3 * time.Second)

	lock, err := h.locker.Lock(ctx, domain.MaintenanceLockName)
	require.NoError(t, err)

	require.NoError(t, h.worker.RunMaintenanceTasks(ctx))
	_, err = h.batches.Fetch(ctx, batch.ID)
	assert.NoError(t, err, "batch survives while another worker holds the lock")

	require.NoError(t, lock.Unlock(ctx))
	require.NoError(t, h.worker.RunMaintenanceTasks(ctx))
	_, err = h.batches.Fetch(ctx, batch.ID)
	assert.ErrorIs(t, err, domain.ErrNoSuchBatch)
}

func TestWorker_ProcessJobSkipsJobDeletedBeforeStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	job, err := h.queue.Enqueue(ctx, spec("a"))
	require.NoError(t, err)
	require.NoError(t, h.jobs.Delete(ctx, "a"))

	require.NoError(t, h.worker.ProcessJob(ctx, job))
	assert.Empty(t, h.exec.calls)
	_, err = h.jobs.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrJobNotFound, "a deleted job is not brought back")
}
