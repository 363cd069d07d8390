// Package tasks runs retryable background work with bounded attempts and
// randomized exponential backoff.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrQueueFull is returned when the store refuses more tasks
	ErrQueueFull = errors.New("task queue full")
	// ErrNoHandler is returned for tasks of an unregistered kind
	ErrNoHandler = errors.New("no handler for task kind")
)

// Task is one unit of background work
type Task struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
	RunAt   time.Time       `json:"run_at"`
}

// Decode unmarshals the payload into v
func (t Task) Decode(v interface{}) error {
	return json.Unmarshal(t.Payload, v)
}

// Handler executes a task. Returning an error schedules a retry unless
// the error is wrapped with Permanent.
type Handler func(ctx context.Context, task Task) error

// Store persists pending tasks
type Store interface {
	Push(ctx context.Context, task Task) error
	// Due claims up to max tasks whose RunAt is not after now
	Due(ctx context.Context, now time.Time, max int) ([]Task, error)
}

// Scheduler is the producer side used by the pipeline
type Scheduler interface {
	Schedule(ctx context.Context, kind string, payload interface{}, delay time.Duration) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Backoff returns the delay before retry number attempt (0-based):
// base doubled per attempt, capped at max, then jittered into [d/2, d).
func Backoff(attempt int, base, max time.Duration, rnd *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) || math.IsInf(d, 0) {
		d = float64(max)
	}
	half := d / 2
	jitter := 0.0
	if rnd != nil {
		jitter = rnd.Float64() * half
	}
	return time.Duration(half + jitter)
}
