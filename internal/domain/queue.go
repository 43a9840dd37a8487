package domain

import "context"

// Queue holds job ids waiting to be processed, oldest first.
type Queue interface {
	Enqueue(ctx context.Context, queueName, jobID string) error
	// Dequeue atomically claims the oldest job id. It returns "" when the
	// queue is empty.
	Dequeue(ctx context.Context, queueName string) (string, error)
	Remove(ctx context.Context, queueName, jobID string) error
	Len(ctx context.Context, queueName string) (int, error)
}
