package memory

import (
	"context"
	"sync"

	"batch-queue/internal/domain"
)

var _ domain.Locker = (*Locker)(nil)

// Locker is a process-local domain.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker creates a Locker with no held locks.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

type memoryLock struct {
	locker *Locker
	name   string
}

func (l *memoryLock) Unlock(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.name)
	return nil
}

func (l *Locker) Lock(_ context.Context, name string) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[name] = true
	return &memoryLock{locker: l, name: name}, nil
}
