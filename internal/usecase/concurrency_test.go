package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"batch-queue/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// interceptSets calls a hook once, right before the first Remove or Exists
// on the given key, so a test can land writes between two store calls of a
// maintenance pass.
type interceptSets struct {
	domain.SetStore

	mu           sync.Mutex
	removeKey    string
	existsKey    string
	beforeRemove func()
	beforeExists func()
}

func (s *interceptSets) take(hook *func(), key, want string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key != want || *hook == nil {
		return nil
	}
	fn := *hook
	*hook = nil
	return fn
}

func (s *interceptSets) Remove(ctx context.Context, key string, members ...string) error {
	if fn := s.take(&s.beforeRemove, key, s.removeKey); fn != nil {
		fn()
	}
	return s.SetStore.Remove(ctx, key, members...)
}

func (s *interceptSets) Exists(ctx context.Context, key string) (bool, error) {
	if fn := s.take(&s.beforeExists, key, s.existsKey); fn != nil {
		fn()
	}
	return s.SetStore.Exists(ctx, key)
}

// emptiedBatch returns a registered batch whose only job was deleted.
func emptiedBatch(t *testing.T, env *testEnv) *domain.Batch {
	t.Helper()
	ctx := context.Background()

	batch, _, err := env.queue.EnqueueMany(ctx, []domain.JobSpec{sayHello("")}, true)
	require.NoError(t, err)
	require.NoError(t, env.jobs.Delete(ctx, batch.Jobs[0].ID))
	return batch
}

func (e *testEnv) interceptedMaintenance(sets *interceptSets) *MaintenanceService {
	return NewMaintenanceService(sets, e.batchRep, e.jobRepo, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMaintenance_AddJobsBeforeUnregisterKeepsBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	batch := emptiedBatch(t, env)

	late, err := env.queue.Enqueue(ctx, sayHello("late"))
	require.NoError(t, err)

	sets := &interceptSets{SetStore: env.sets, removeKey: domain.RegistryKey}
	sets.beforeRemove = func() {
		assert.NoError(t, env.batches.AddJobs(ctx, &domain.Batch{ID: batch.ID}, late))
	}

	report, err := env.interceptedMaintenance(sets).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Pruned)

	fetched, err := env.batches.Fetch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, ids(fetched.Jobs))
	_, err = env.batchRep.Get(ctx, batch.ID)
	assert.NoError(t, err, "metadata of a refilled batch is kept")
}

func TestMaintenance_AddJobsBeforeRefillCheckKeepsBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	batch := emptiedBatch(t, env)

	late, err := env.queue.Enqueue(ctx, sayHello("late"))
	require.NoError(t, err)

	sets := &interceptSets{SetStore: env.sets, existsKey: batch.Key()}
	sets.beforeExists = func() {
		registered, err := env.batches.Registry().Contains(ctx, batch.ID)
		assert.NoError(t, err)
		assert.False(t, registered, "hook runs after the batch was unregistered")
		assert.NoError(t, env.batches.AddJobs(ctx, &domain.Batch{ID: batch.ID}, late))
	}

	report, err := env.interceptedMaintenance(sets).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Pruned)

	registered, err := env.batches.Registry().Contains(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, registered)

	fetched, err := env.batches.Fetch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, ids(fetched.Jobs))
}

func TestBatch_ConcurrentAddJobsLosesNoMember(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	batch, _, err := env.queue.EnqueueMany(ctx, []domain.JobSpec{sayHello("seed")}, true)
	require.NoError(t, err)

	const n = 32
	jobs := make([]*domain.Job, 0, n)
	want := []string{"seed"}
	for i := 0; i < n; i++ {
		job, err := env.queue.Enqueue(ctx, sayHello(fmt.Sprintf("job-%02d", i)))
		require.NoError(t, err)
		jobs = append(jobs, job)
		want = append(want, job.ID)
	}

	var g errgroup.Group
	for _, job := range jobs {
		g.Go(func() error {
			// Each caller holds its own view of the batch, as separate processes would.
			return env.batches.AddJobs(ctx, &domain.Batch{ID: batch.ID}, job)
		})
	}
	require.NoError(t, g.Wait())

	members, err := env.sets.Members(ctx, batch.Key())
	require.NoError(t, err)
	assert.ElementsMatch(t, want, members)

	fetched, err := env.batches.Fetch(ctx, batch.ID)
	require.NoError(t, err)
	for _, job := range fetched.Jobs {
		assert.Equal(t, batch.ID, job.BatchID, job.ID)
	}
	assert.Len(t, fetched.Jobs, n+1)
}

func TestBatch_AddJobsWhileWorkersRunKeepsBothSidesInStep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	batch, _, err := env.queue.EnqueueMany(ctx, []domain.JobSpec{sayHello("seed")}, true)
	require.NoError(t, err)
	// The seed is not part of the race.
	seed, err := env.q.Dequeue(ctx, domain.DefaultQueue)
	require.NoError(t, err)
	require.Equal(t, "seed", seed)

	const n = 32
	jobs := make([]*domain.Job, 0, n)
	for i := 0; i < n; i++ {
		job, err := env.queue.Enqueue(ctx, sayHello(fmt.Sprintf("job-%02d", i)))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		workerID := fmt.Sprintf("w%d", w)
		g.Go(func() error {
			for {
				id, err := env.q.Dequeue(ctx, domain.DefaultQueue)
				if err != nil || id == "" {
					return err
				}
				job, err := env.jobs.Get(ctx, id)
				if err != nil {
					return err
				}
				if err := env.jobs.Start(ctx, job, workerID); err != nil {
					return err
				}
				if err := env.jobs.Complete(ctx, job, "hello", nil); err != nil {
					return err
				}
			}
		})
	}
	g.Go(func() error {
		for _, job := range jobs {
			if err := env.batches.AddJobs(ctx, &domain.Batch{ID: batch.ID}, job); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	for _, job := range jobs {
		stored, err := env.jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, batch.ID, stored.BatchID, job.ID)
		assert.Equal(t, domain.JobStatusFinished, stored.Status, job.ID)
	}

	for _, job := range jobs {
		require.NoError(t, env.jobs.Delete(ctx, job.ID))
	}
	members, err := env.sets.Members(ctx, batch.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"seed"}, members, "explicit deletes leave no member behind")
}

func TestMaintenance_ConcurrentWithAddJobsNeverDropsRefilledBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	const n = 16
	batches := make([]*domain.Batch, 0, n)
	late := make([]*domain.Job, 0, n)
	for i := 0; i < n; i++ {
		batches = append(batches, emptiedBatch(t, env))
		job, err := env.queue.Enqueue(ctx, sayHello(fmt.Sprintf("late-%02d", i)))
		require.NoError(t, err)
		late = append(late, job)
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 5; i++ {
			if _, err := env.maintenance.Run(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i, b := range batches {
			if err := env.batches.AddJobs(ctx, &domain.Batch{ID: b.ID}, late[i]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	for i, b := range batches {
		fetched, err := env.batches.Fetch(ctx, b.ID)
		require.NoError(t, err, "batch %d was refilled and must stay registered", i)
		assert.Equal(t, []string{late[i].ID}, ids(fetched.Jobs))
	}
}
