package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps tasks in process, bounded by capacity
type MemoryStore struct {
	mu       sync.Mutex
	tasks    []Task
	capacity int
}

// NewMemoryStore creates a store holding at most capacity tasks
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity}
}

// Push implements Store
func (s *MemoryStore) Push(ctx context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && len(s.tasks) >= s.capacity {
		return ErrQueueFull
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Due implements Store
func (s *MemoryStore) Due(ctx context.Context, now time.Time, max int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.tasks, func(i, j int) bool { return s.tasks[i].RunAt.Before(s.tasks[j].RunAt) })

	n := 0
	for n < len(s.tasks) && n < max && !s.tasks[n].RunAt.After(now) {
		n++
	}
	due := append([]Task(nil), s.tasks[:n]...)
	s.tasks = append(s.tasks[:0], s.tasks[n:]...)
	return due, nil
}

// Len returns the number of pending tasks
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Pending returns a copy of the pending tasks
func (s *MemoryStore) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}
