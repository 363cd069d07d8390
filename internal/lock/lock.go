// Package lock provides short-lived mutual exclusion keyed by string.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock stayed held by someone else for the whole wait
var ErrNotAcquired = errors.New("lock not acquired")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires leases. A lease expires on its own after ttl if never released.
// Acquire polls for up to wait before giving up with ErrNotAcquired.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error)
}

const retryInterval = 25 * time.Millisecond

// poll calls try until it succeeds, fails, the wait elapses, or ctx ends
func poll(ctx context.Context, wait time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
