// internal/infra/etcd/etcd_batch_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"batch-queue/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type batchRecord struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

type etcdBatchRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdBatchRepository creates a repository for batch metadata backed by etcd.
// The key is structured as /batchq/batch-meta/{batchID}.
func NewEtcdBatchRepository(client *clientv3.Client, logger *slog.Logger) domain.BatchRepository {
	return &etcdBatchRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("batch-queue-etcd-batch-repo"),
	}
}

func (r *etcdBatchRepository) Save(ctx context.Context, batch *domain.Batch) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveBatch")
	defer span.End()

	recordJSON, err := json.Marshal(batchRecord{ID: batch.ID, CreatedAt: batch.CreatedAt.UnixNano()})
	if err != nil {
		return fmt.Errorf("failed to marshal batch %s to JSON: %w", batch.ID, err)
	}

	key := batchMetaKey(batch.ID)
	span.SetAttributes(attribute.String("batch.id", batch.ID), attribute.String("etcd.key", key))

	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put batch to etcd")
		return fmt.Errorf("failed to save batch %s to etcd: %w", batch.ID, err)
	}
	return nil
}

func (r *etcdBatchRepository) Get(ctx context.Context, id string) (*domain.Batch, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetBatch")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", id))

	resp, err := r.client.Get(ctx, batchMetaKey(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get batch from etcd")
		return nil, fmt.Errorf("failed to get batch %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrNoSuchBatch
	}

	var record batchRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch %s from JSON: %w", id, err)
	}
	return &domain.Batch{ID: record.ID, CreatedAt: unixNano(record.CreatedAt)}, nil
}

func (r *etcdBatchRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.DeleteBatch")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", id))

	if _, err := r.client.Delete(ctx, batchMetaKey(id)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete batch from etcd")
		return fmt.Errorf("failed to delete batch %s from etcd: %w", id, err)
	}
	return nil
}
