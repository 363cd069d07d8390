package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestNextIncreasing(t *testing.T) {
	g := New(0)
	prev := g.Next()
	for i := 0; i < 10000; i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("Next() = %d after %d, want increasing", id, prev)
		}
		prev = id
	}
}

func TestNextClockBackwards(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	g := NewWithClock(0, func() time.Time { return clock })

	first := g.Next()
	clock = base.Add(-time.Second)
	second := g.Next()

	if second <= first {
		t.Errorf("Next() = %d after clock rewind, want > %d", second, first)
	}
}

func TestNextSequenceOverflow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewWithClock(0, func() time.Time { return base })

	var last int64
	for i := 0; i <= sequenceMask+1; i++ {
		last = g.Next()
	}
	if got := Time(last); !got.After(base) {
		t.Errorf("Time(last) = %v, want after %v once the sequence wraps", got, base)
	}
}

func TestNextConcurrentUnique(t *testing.T) {
	g := New(0)
	const workers, per = 8, 2000

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, per)
			for i := range ids {
				ids[i] = g.Next()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}

func TestAtAndTime(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	g := NewWithClock(0, func() time.Time { return ts })

	id := g.Next()
	if id < At(ts) || id >= At(ts.Add(time.Millisecond)) {
		t.Errorf("Next() = %d, want within [%d, %d)", id, At(ts), At(ts.Add(time.Millisecond)))
	}
	if got := Time(id); !got.Equal(ts) {
		t.Errorf("Time(%d) = %v, want %v", id, got, ts)
	}
}

func TestNodesDoNotCollide(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	clock := func() time.Time { return ts }
	server := NewWithClock(1, clock)
	worker := NewWithClock(2, clock)

	seen := make(map[int64]bool)
	for i := 0; i < 200; i++ {
		for _, id := range []int64{server.Next(), worker.Next(), server.NextAt(ts.Add(-time.Hour)), worker.NextAt(ts.Add(-time.Hour))} {
			if seen[id] {
				t.Fatalf("duplicate id %d across nodes", id)
			}
			seen[id] = true
		}
	}
	if got := NodeOf(worker.Next()); got != 2 {
		t.Errorf("NodeOf() = %d, want 2", got)
	}
}

func TestNextAtFollowsTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	g := NewWithClock(3, func() time.Time { return now })

	newer := g.NextAt(now.Add(-time.Hour))
	older := g.NextAt(now.Add(-48 * time.Hour))
	current := g.Next()

	if older >= newer {
		t.Errorf("NextAt(older) = %d, want < NextAt(newer) = %d", older, newer)
	}
	if newer >= current {
		t.Errorf("NextAt(newer) = %d, want < Next() = %d", newer, current)
	}
	if got := Time(older); !got.Equal(now.Add(-48 * time.Hour)) {
		t.Errorf("Time(older) = %v, want %v", got, now.Add(-48*time.Hour))
	}
}

func TestNextAtBackdatedUnique(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	past := now.Add(-time.Minute)
	g := NewWithClock(0, func() time.Time { return now })

	seen := make(map[int64]bool)
	seen[g.NextAt(past)] = true
	g.Next()
	for i := 0; i < sequenceMask; i++ {
		id := g.NextAt(past)
		if seen[id] {
			t.Fatalf("NextAt(past) repeated %d after %d calls", id, i)
		}
		seen[id] = true
	}
}

func TestNextAtClampsFuture(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	g := NewWithClock(0, func() time.Time { return now })
	if got := Time(g.NextAt(now.Add(time.Hour))); !got.Equal(now) {
		t.Errorf("Time(NextAt(future)) = %v, want %v", got, now)
	}
}
