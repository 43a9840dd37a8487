package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"batch-queue/internal/domain"
)

var _ domain.JobRepository = (*JobRepository)(nil)

type jobEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// JobRepository stores jobs as encoded copies so callers never share state
// with the store, and drops records whose expiry has passed.
type JobRepository struct {
	mu    sync.Mutex
	jobs  map[string]jobEntry
	clock func() time.Time
}

// NewJobRepository creates an empty job repository.
func NewJobRepository(opts ...Option) *JobRepository {
	o := applyOptions(opts)
	return &JobRepository{
		jobs:  make(map[string]jobEntry),
		clock: o.clock,
	}
}

// load returns the live entry for id. Callers must hold r.mu.
func (r *JobRepository) load(id string) (jobEntry, bool) {
	entry, ok := r.jobs[id]
	if !ok {
		return jobEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !r.clock().Before(entry.expiresAt) {
		delete(r.jobs, id)
		return jobEntry{}, false
	}
	return entry, true
}

func (r *JobRepository) Save(_ context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	entry := jobEntry{data: data}
	if ttl := job.ExpiryTTL(); ttl > 0 {
		entry.expiresAt = r.clock().Add(ttl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = entry
	return nil
}

func (r *JobRepository) Get(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.load(id)
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return decodeJob(entry.data)
}

func (r *JobRepository) GetMany(_ context.Context, ids []string) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		entry, ok := r.load(id)
		if !ok {
			continue
		}
		job, err := decodeJob(entry.data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *JobRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.load(id)
	return ok, nil
}

func (r *JobRepository) Delete(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.load(id)
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	delete(r.jobs, id)
	return decodeJob(entry.data)
}

func (r *JobRepository) UpdateStatus(_ context.Context, id string, fn func(job *domain.Job)) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(id, false, func(job *domain.Job) bool {
		fn(job)
		return true
	})
}

func (r *JobRepository) Finish(_ context.Context, id string, fn func(job *domain.Job)) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(id, true, func(job *domain.Job) bool {
		fn(job)
		return true
	})
}

func (r *JobRepository) SetBatchID(_ context.Context, id, batchID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous string
	_, err := r.update(id, false, func(job *domain.Job) bool {
		previous = job.BatchID
		job.BatchID = batchID
		return true
	})
	return previous, err
}

func (r *JobRepository) ClearBatchID(_ context.Context, id, batchID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared bool
	_, err := r.update(id, false, func(job *domain.Job) bool {
		if job.BatchID != batchID {
			return false
		}
		job.BatchID = ""
		cleared = true
		return true
	})
	return cleared, err
}

// update rewrites a job in place. The expiry is kept unless rearm is set, in
// which case it restarts from the updated job's ExpiryTTL. Callers must hold r.mu.
func (r *JobRepository) update(id string, rearm bool, fn func(job *domain.Job) bool) (*domain.Job, error) {
	entry, ok := r.load(id)
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job, err := decodeJob(entry.data)
	if err != nil {
		return nil, err
	}
	if !fn(job) {
		return job, nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job %s: %w", id, err)
	}
	entry.data = data
	if rearm {
		entry.expiresAt = time.Time{}
		if ttl := job.ExpiryTTL(); ttl > 0 {
			entry.expiresAt = r.clock().Add(ttl)
		}
	}
	r.jobs[id] = entry
	return job, nil
}

func decodeJob(data []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
