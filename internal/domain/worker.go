package domain

import (
	"context"
	"time"
)

// WorkerInfo describes a live worker process.
type WorkerInfo struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Queues    []string  `json:"queues"`
	StartedAt time.Time `json:"started_at"`
}

// WorkerDirectory lists the workers whose registration has not expired.
type WorkerDirectory interface {
	List(ctx context.Context) ([]WorkerInfo, error)
}
