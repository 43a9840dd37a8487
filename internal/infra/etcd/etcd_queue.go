// internal/infra/etcd/etcd_queue.go
package etcd

import (
	"context"
	"fmt"
	"log/slog"

	"batch-queue/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// etcdQueue keeps one key per queued job under /batchq/queues/{queue}/.
// Creation revision gives the FIFO order.
type etcdQueue struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdQueue creates a job queue backed by etcd.
func NewEtcdQueue(client *clientv3.Client, logger *slog.Logger) domain.Queue {
	return &etcdQueue{
		client: client,
		logger: logger.With("component", "etcd-queue"),
		tracer: otel.Tracer("batch-queue-etcd-queue"),
	}
}

func (q *etcdQueue) Enqueue(ctx context.Context, queueName, jobID string) error {
	ctx, span := q.tracer.Start(ctx, "queue.etcd.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("queue.name", queueName), attribute.String("job.id", jobID))

	if _, err := q.client.Put(ctx, queueKey(queueName, jobID), jobID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue job")
		return fmt.Errorf("failed to enqueue job %s on %s: %w", jobID, queueName, err)
	}
	return nil
}

// Dequeue claims the oldest entry by deleting it only if nobody else did first.
func (q *etcdQueue) Dequeue(ctx context.Context, queueName string) (string, error) {
	ctx, span := q.tracer.Start(ctx, "queue.etcd.Dequeue")
	defer span.End()
	span.SetAttributes(attribute.String("queue.name", queueName))

	for {
		resp, err := q.client.Get(ctx, queuePrefix(queueName),
			clientv3.WithPrefix(),
			clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
			clientv3.WithLimit(1),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read queue head")
			return "", fmt.Errorf("failed to read head of queue %s: %w", queueName, err)
		}
		if len(resp.Kvs) == 0 {
			return "", nil
		}
		kv := resp.Kvs[0]

		txn, err := q.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(string(kv.Key)), "=", kv.ModRevision)).
			Then(clientv3.OpDelete(string(kv.Key))).
			Commit()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to claim queue head")
			return "", fmt.Errorf("failed to claim head of queue %s: %w", queueName, err)
		}
		if txn.Succeeded {
			span.SetAttributes(attribute.String("job.id", string(kv.Value)))
			return string(kv.Value), nil
		}
		q.logger.Debug("queue head claimed by another worker, retrying", "queue", queueName)
	}
}

func (q *etcdQueue) Remove(ctx context.Context, queueName, jobID string) error {
	if _, err := q.client.Delete(ctx, queueKey(queueName, jobID)); err != nil {
		return fmt.Errorf("failed to remove job %s from queue %s: %w", jobID, queueName, err)
	}
	return nil
}

func (q *etcdQueue) Len(ctx context.Context, queueName string) (int, error) {
	resp, err := q.client.Get(ctx, queuePrefix(queueName), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %s: %w", queueName, err)
	}
	return int(resp.Count), nil
}
