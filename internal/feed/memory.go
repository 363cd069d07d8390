package feed

import (
	"context"
	"sort"
	"sync"
)

// MemoryQueue is an in-process Queue
type MemoryQueue struct {
	mu         sync.Mutex
	feeds      map[string]map[int64]bool
	maxEntries int
}

// NewMemoryQueue creates a queue that trims each feed to maxEntries
func NewMemoryQueue(maxEntries int) *MemoryQueue {
	return &MemoryQueue{feeds: make(map[string]map[int64]bool), maxEntries: maxEntries}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, entries []Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		f, ok := q.feeds[e.Key]
		if !ok {
			f = make(map[int64]bool)
			q.feeds[e.Key] = f
		}
		f[e.StatusID] = true
		if q.maxEntries > 0 && len(f) > q.maxEntries {
			ids := sortedDesc(f)
			for _, id := range ids[q.maxEntries:] {
				delete(f, id)
			}
		}
	}
	return nil
}

func (q *MemoryQueue) Range(ctx context.Context, key string, n int) ([]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := sortedDesc(q.feeds[key])
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, key string, statusID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.feeds[key], statusID)
	return nil
}

// Keys returns the feed keys holding at least one entry
func (q *MemoryQueue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var keys []string
	for k, f := range q.feeds {
		if len(f) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func sortedDesc(f map[int64]bool) []int64 {
	ids := make([]int64, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}
