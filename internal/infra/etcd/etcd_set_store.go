// internal/infra/etcd/etcd_set_store.go
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

// etcdSetStore stores a set as a key prefix with one empty-valued key per
// member, so adding and removing members never rewrites the whole set.
type etcdSetStore struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdSetStore creates a set store backed by etcd.
func NewEtcdSetStore(client *clientv3.Client, logger *slog.Logger) domain.SetStore {
	return &etcdSetStore{
		client: client,
		logger: logger.With("component", "etcd-set-store"),
		tracer: otel.Tracer("batch-queue-etcd-sets"),
	}
}

// Add puts every member in one transaction per chunk of maxTxnOps members.
func (s *etcdSetStore) Add(ctx context.Context, key string, members ...string) error {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.SetAdd")
	defer span.End()
	span.SetAttributes(attribute.String("set.key", key), attribute.Int("set.members", len(members)))

	for _, chunk := range chunks(members, maxTxnOps) {
		ops := make([]clientv3.Op, 0, len(chunk))
		for _, m := range chunk {
			ops = append(ops, clientv3.OpPut(memberKey(key, m), ""))
		}
		if _, err := s.client.Txn(ctx).Then(ops...).Commit(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to add set members")
			return fmt.Errorf("failed to add members to set %s: %w", key, err)
		}
	}
	return nil
}

func (s *etcdSetStore) Remove(ctx context.Context, key string, members ...string) error {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.SetRemove")
	defer span.End()
	span.SetAttributes(attribute.String("set.key", key), attribute.Int("set.members", len(members)))

	for _, chunk := range chunks(members, maxTxnOps) {
		ops := make([]clientv3.Op, 0, len(chunk))
		for _, m := range chunk {
			ops = append(ops, clientv3.OpDelete(memberKey(key, m)))
		}
		if _, err := s.client.Txn(ctx).Then(ops...).Commit(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to remove set members")
			return fmt.Errorf("failed to remove members from set %s: %w", key, err)
		}
	}
	return nil
}

func (s *etcdSetStore) Members(ctx context.Context, key string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.SetMembers")
	defer span.End()
	span.SetAttributes(attribute.String("set.key", key))

	resp, err := s.client.Get(ctx, setPrefix(key), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list set members")
		return nil, fmt.Errorf("failed to list members of set %s: %w", key, err)
	}

	members := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		members = append(members, memberFromKey(key, kv.Key))
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(members)))
	return members, nil
}

func (s *etcdSetStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	resp, err := s.client.Get(ctx, memberKey(key, member), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to check member %s of set %s: %w", member, key, err)
	}
	return resp.Count > 0, nil
}

func (s *etcdSetStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.client.Get(ctx, setPrefix(key), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to check set %s: %w", key, err)
	}
	return resp.Count > 0, nil
}

func (s *etcdSetStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.SetDelete")
	defer span.End()
	span.SetAttributes(attribute.String("set.key", key))

	resp, err := s.client.Delete(ctx, setPrefix(key), clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete set")
		return fmt.Errorf("failed to delete set %s: %w", key, err)
	}
	s.logger.Debug("deleted set", "key", key, "members", resp.Deleted)
	return nil
}
