// internal/worker/registry.go
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"batch-queue/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// WorkerRegistryPrefix is the etcd prefix under which workers register.
const WorkerRegistryPrefix = "/batchq/workers/"

var _ domain.WorkerDirectory = (*Registry)(nil)

// Registry publishes this worker's domain.WorkerInfo under a lease and lists
// the other live workers. A worker that dies disappears once its lease expires.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
}

// NewRegistry creates a new worker registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "worker-registry"),
	}
}

// Register stores info and keeps its lease alive until ctx is cancelled or
// Deregister is called.
func (r *Registry) Register(ctx context.Context, info domain.WorkerInfo, ttl time.Duration) error {
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal worker info: %w", err)
	}

	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	leaseResp, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID
	r.key = WorkerRegistryPrefix + info.ID

	if _, err = r.client.Put(ctx, r.key, string(value), clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put worker registration key: %w", err)
	}

	// The keep-alive must outlive the registration call's own deadline.
	keepAliveCh, err := r.client.KeepAlive(context.WithoutCancel(ctx), r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for range keepAliveCh {
		}
		r.logger.Warn("keep-alive channel closed, worker registration may have expired", "key", r.key)
	}()

	r.logger.Info("worker registered", "key", r.key, "queues", info.Queues)
	return nil
}

// Deregister revokes the lease, which deletes the registration key.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering worker", "key", r.key)

	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

// List returns every registered worker, ordered by id.
func (r *Registry) List(ctx context.Context) ([]domain.WorkerInfo, error) {
	resp, err := r.client.Get(ctx, WorkerRegistryPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	workers := make([]domain.WorkerInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info domain.WorkerInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			r.logger.Warn("skipping malformed worker registration", "key", string(kv.Key), "error", err)
			continue
		}
		workers = append(workers, info)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers, nil
}
