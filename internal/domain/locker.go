// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// MaintenanceLockName guards the registry maintenance pass so that only one
// worker reconciles batches at a time.
const MaintenanceLockName = "maintenance"

// ErrLockNotAcquired is returned when a lock is already held by another process.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock represents an acquired distributed lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker defines the interface for a distributed locking mechanism.
type Locker interface {
	// Lock attempts to acquire the named lock without waiting for a holder
	// to release it. A held lock yields ErrLockNotAcquired.
	Lock(ctx context.Context, name string) (Lock, error)
}
