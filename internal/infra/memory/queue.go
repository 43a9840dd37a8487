package memory

import (
	"context"
	"sync"

	"batch-queue/internal/domain"
)

var _ domain.Queue = (*Queue)(nil)

// Queue is a set of FIFO lists keyed by queue name.
type Queue struct {
	mu     sync.Mutex
	queues map[string][]string
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{queues: make(map[string][]string)}
}

func (q *Queue) Enqueue(_ context.Context, queueName, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queues[queueName] = append(q.queues[queueName], jobID)
	return nil
}

func (q *Queue) Dequeue(_ context.Context, queueName string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.queues[queueName]
	if len(ids) == 0 {
		return "", nil
	}
	q.queues[queueName] = ids[1:]
	return ids[0], nil
}

func (q *Queue) Remove(_ context.Context, queueName, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.queues[queueName]
	for i, id := range ids {
		if id == jobID {
			q.queues[queueName] = append(ids[:i:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *Queue) Len(_ context.Context, queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queues[queueName]), nil
}
