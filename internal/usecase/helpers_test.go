package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"batch-queue/internal/domain"
	"batch-queue/internal/infra/memory"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	now time.Time

	sets     *memory.SetStore
	jobRepo  *memory.JobRepository
	batchRep *memory.BatchRepository
	q        *memory.Queue

	jobs        *JobService
	batches     *BatchService
	queue       *QueueService
	maintenance *MaintenanceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return env.now }

	env.sets = memory.NewSetStore()
	env.jobRepo = memory.NewJobRepository(memory.WithClock(clock))
	env.batchRep = memory.NewBatchRepository()
	env.q = memory.NewQueue()

	env.jobs = NewJobService(env.jobRepo, env.sets, env.q, JobDefaults{ResultTTL: 500 * time.Second}, logger)
	env.batches = NewBatchService(env.sets, env.batchRep, env.jobRepo, logger)
	env.queue = NewQueueService(env.jobs, env.batches, env.q, logger)
	env.maintenance = NewMaintenanceService(env.sets, env.batchRep, env.jobRepo, 2, logger)
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// work pops the next job from the default queue and completes it the way a
// worker would.
func (e *testEnv) work(t *testing.T) *domain.Job {
	t.Helper()
	ctx := context.Background()

	id, err := e.q.Dequeue(ctx, domain.DefaultQueue)
	require.NoError(t, err)
	require.NotEmpty(t, id, "queue is empty")

	job, err := e.jobs.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, e.jobs.Start(ctx, job, "test-worker"))
	require.NoError(t, e.jobs.Complete(ctx, job, "hello", nil))
	return job
}

func sayHello(id string) domain.JobSpec {
	return domain.JobSpec{
		ID:           id,
		ExecutorType: domain.ExecutorTypeShell,
		Executor:     domain.JobExecutor{Command: "echo hello"},
	}
}

func shortLived(ttl time.Duration) domain.JobSpec {
	spec := sayHello("")
	spec.ResultTTL = &ttl
	return spec
}

func ids(jobs []*domain.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
