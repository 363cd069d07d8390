package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLockerExclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "a", time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := l.Acquire(ctx, "a", time.Second, 50*time.Millisecond); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("second Acquire() error = %v, want ErrNotAcquired", err)
	}

	if _, err := l.Acquire(ctx, "b", time.Second, 0); err != nil {
		t.Errorf("Acquire() on other key error = %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if l.Held("a") {
		t.Error("Held(a) = true after release")
	}
}

func TestMemoryLockerWaitsForRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "k", time.Minute, 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		lease.Release(ctx)
	}()

	if _, err := l.Acquire(ctx, "k", time.Minute, 2*time.Second); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire() after ttl error = %v", err)
	}

	// the expired lease must not drop the new holder
	stale.Release(ctx)
	if !l.Held("k") {
		t.Error("Held(k) = false after stale release, want true")
	}
	fresh.Release(ctx)
}

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx, "shared", time.Second, 5*time.Second)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			lease.Release(ctx)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	l := NewMemoryLocker()
	if _, err := l.Acquire(context.Background(), "k", time.Minute, 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx, "k", time.Minute, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestRedisLockerKey(t *testing.T) {
	l := NewRedisLocker(nil, "fedimind:")
	if got, want := l.Key("ingest:abc"), "fedimind:lock:ingest:abc"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}
