// internal/infra/etcd/etcd_job_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"batch-queue/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type etcdJobRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdJobRepository creates a new repository for jobs backed by etcd.
// Job expiry is enforced by etcd leases.
func NewEtcdJobRepository(client *clientv3.Client, logger *slog.Logger) domain.JobRepository {
	return &etcdJobRepository{
		client: client,
		logger: logger.With("component", "etcd-job-repo"),
		tracer: otel.Tracer("batch-queue-etcd-repo"),
	}
}

// Save persists the Job struct to etcd, attaching a fresh lease when the job
// has an expiry. A lease the key held before is revoked once detached.
func (r *etcdJobRepository) Save(ctx context.Context, job *domain.Job) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveJob")
	defer span.End()

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job to JSON: %w", err)
	}

	key := jobKey(job.ID)
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("etcd.key", key),
	)

	lease, err := r.grantFor(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to grant job lease")
		return err
	}

	opts := []clientv3.OpOption{clientv3.WithPrevKV()}
	if lease != clientv3.NoLease {
		opts = append(opts, clientv3.WithLease(lease))
	}
	resp, err := r.client.Put(ctx, key, string(jobJSON), opts...)
	if err != nil {
		r.revoke(ctx, lease)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put job to etcd")
		return fmt.Errorf("failed to save job %s to etcd: %w", job.ID, err)
	}
	if resp.PrevKv != nil {
		if old := clientv3.LeaseID(resp.PrevKv.Lease); old != lease {
			r.revoke(ctx, old)
		}
	}
	return nil
}

// grantFor grants a lease matching job.ExpiryTTL, or returns NoLease for
// records that do not expire.
func (r *etcdJobRepository) grantFor(ctx context.Context, job *domain.Job) (clientv3.LeaseID, error) {
	ttl := job.ExpiryTTL()
	if ttl <= 0 {
		return clientv3.NoLease, nil
	}
	lease, err := r.client.Grant(ctx, leaseSeconds(ttl))
	if err != nil {
		return clientv3.NoLease, fmt.Errorf("failed to grant lease for job %s: %w", job.ID, err)
	}
	return lease.ID, nil
}

// revoke releases a lease no key uses anymore. Failures only leave the lease
// to run out on its own, so they are logged.
func (r *etcdJobRepository) revoke(ctx context.Context, lease clientv3.LeaseID) {
	if lease == clientv3.NoLease {
		return
	}
	if _, err := r.client.Revoke(context.WithoutCancel(ctx), lease); err != nil {
		r.logger.Warn("failed to revoke unused job lease", "lease_id", int64(lease), "error", err)
	}
}

// Get retrieves a job from etcd.
func (r *etcdJobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	resp, err := r.client.Get(ctx, jobKey(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get job from etcd")
		return nil, fmt.Errorf("failed to get job %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrJobNotFound
	}

	var job domain.Job
	if err := json.Unmarshal(resp.Kvs[0].Value, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s from JSON: %w", id, err)
	}
	return &job, nil
}

// GetMany resolves ids with one transaction of reads per chunk.
func (r *etcdJobRepository) GetMany(ctx context.Context, ids []string) ([]*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetManyJobs")
	defer span.End()
	span.SetAttributes(attribute.Int("job.requested", len(ids)))

	jobs := make([]*domain.Job, 0, len(ids))
	for _, chunk := range chunks(ids, maxTxnOps) {
		ops := make([]clientv3.Op, 0, len(chunk))
		for _, id := range chunk {
			ops = append(ops, clientv3.OpGet(jobKey(id)))
		}
		resp, err := r.client.Txn(ctx).Then(ops...).Commit()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get jobs from etcd")
			return nil, fmt.Errorf("failed to get jobs from etcd: %w", err)
		}
		for _, op := range resp.Responses {
			rng := op.GetResponseRange()
			if rng == nil || len(rng.Kvs) == 0 {
				continue
			}
			var job domain.Job
			if err := json.Unmarshal(rng.Kvs[0].Value, &job); err != nil {
				r.logger.Warn("failed to unmarshal job from etcd", "key", string(rng.Kvs[0].Key), "error", err)
				continue
			}
			jobs = append(jobs, &job)
		}
	}
	span.SetAttributes(attribute.Int("job.found", len(jobs)))
	return jobs, nil
}

func (r *etcdJobRepository) Exists(ctx context.Context, id string) (bool, error) {
	resp, err := r.client.Get(ctx, jobKey(id), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to check job %s in etcd: %w", id, err)
	}
	return resp.Count > 0, nil
}

// Delete removes a job from etcd and returns the removed record.
func (r *etcdJobRepository) Delete(ctx context.Context, id string) (*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.DeleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	resp, err := r.client.Delete(ctx, jobKey(id), clientv3.WithPrevKV())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete job from etcd")
		return nil, fmt.Errorf("failed to delete job %s from etcd: %w", id, err)
	}
	if len(resp.PrevKvs) == 0 {
		return nil, domain.ErrJobNotFound
	}
	prev := resp.PrevKvs[0]
	r.revoke(ctx, clientv3.LeaseID(prev.Lease))

	var job domain.Job
	if err := json.Unmarshal(prev.Value, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s from JSON: %w", id, err)
	}
	return &job, nil
}

// UpdateStatus rewrites the stored job through fn, keeping its lease.
func (r *etcdJobRepository) UpdateStatus(ctx context.Context, id string, fn func(job *domain.Job)) (*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.UpdateJobStatus")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	job, err := r.update(ctx, id, false, func(job *domain.Job) bool {
		fn(job)
		return true
	})
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update job status")
	}
	return job, err
}

// Finish rewrites the stored job through fn under a lease matching its new
// ExpiryTTL and revokes the lease it had before.
func (r *etcdJobRepository) Finish(ctx context.Context, id string, fn func(job *domain.Job)) (*domain.Job, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.FinishJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id))

	job, err := r.update(ctx, id, true, func(job *domain.Job) bool {
		fn(job)
		return true
	})
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to finish job")
	}
	return job, err
}

func (r *etcdJobRepository) SetBatchID(ctx context.Context, id, batchID string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SetBatchID")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id), attribute.String("batch.id", batchID))

	var previous string
	_, err := r.update(ctx, id, false, func(job *domain.Job) bool {
		previous = job.BatchID
		job.BatchID = batchID
		return true
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set batch id")
	}
	return previous, err
}

func (r *etcdJobRepository) ClearBatchID(ctx context.Context, id, batchID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ClearBatchID")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id), attribute.String("batch.id", batchID))

	var cleared bool
	_, err := r.update(ctx, id, false, func(job *domain.Job) bool {
		cleared = job.BatchID == batchID
		if cleared {
			job.BatchID = ""
		}
		return cleared
	})
	return cleared, err
}

// update applies fn to the stored job with a compare-and-swap on the key's
// mod revision, retrying when another writer got in first. Without rearm the
// key keeps its lease, so the remaining expiry is unchanged. With rearm the
// key moves to a lease matching the updated ExpiryTTL and the old lease is
// revoked.
func (r *etcdJobRepository) update(ctx context.Context, id string, rearm bool, fn func(job *domain.Job) bool) (*domain.Job, error) {
	key := jobKey(id)

	lease := clientv3.NoLease
	committed := false
	defer func() {
		if !committed {
			r.revoke(ctx, lease)
		}
	}()

	for {
		resp, err := r.client.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get job %s from etcd: %w", id, err)
		}
		if len(resp.Kvs) == 0 {
			return nil, domain.ErrJobNotFound
		}
		kv := resp.Kvs[0]

		var job domain.Job
		if err := json.Unmarshal(kv.Value, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job %s from JSON: %w", id, err)
		}
		if !fn(&job) {
			return &job, nil
		}
		jobJSON, err := json.Marshal(&job)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job to JSON: %w", err)
		}

		putOpts := []clientv3.OpOption{clientv3.WithIgnoreLease()}
		if rearm {
			// The expiry depends only on fields fn sets, so one grant serves every retry.
			if lease == clientv3.NoLease {
				if lease, err = r.grantFor(ctx, &job); err != nil {
					return nil, err
				}
			}
			putOpts = nil
			if lease != clientv3.NoLease {
				putOpts = []clientv3.OpOption{clientv3.WithLease(lease)}
			}
		}

		txn, err := r.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpPut(key, string(jobJSON), putOpts...)).
			Commit()
		if err != nil {
			return nil, fmt.Errorf("failed to update job %s in etcd: %w", id, err)
		}
		if txn.Succeeded {
			committed = true
			if old := clientv3.LeaseID(kv.Lease); rearm && old != lease {
				r.revoke(ctx, old)
			}
			return &job, nil
		}
		r.logger.Debug("job changed concurrently, retrying update", "job_id", id)
	}
}
