package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker for single-node deployments and tests
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	nonce uint64
	now   func() time.Time
}

type memoryEntry struct {
	nonce   uint64
	expires time.Time
}

// NewMemoryLocker creates an empty in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), now: time.Now}
}

// Acquire implements Locker
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	var nonce uint64
	err := poll(ctx, wait, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := l.now()
		if e, ok := l.held[key]; ok && now.Before(e.expires) {
			return false, nil
		}
		l.nonce++
		nonce = l.nonce
		l.held[key] = memoryEntry{nonce: nonce, expires: now.Add(ttl)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &memoryLease{locker: l, key: key, nonce: nonce}, nil
}

// Held reports whether key is currently locked
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	return ok && l.now().Before(e.expires)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	nonce  uint64
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.held[l.key]; ok && e.nonce == l.nonce {
		delete(l.locker.held, l.key)
	}
	return nil
}
