package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedibird/fedimind/pkg/config"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

// Runner polls a Store and executes due tasks on a fixed worker pool
type Runner struct {
	store       Store
	handlers    map[string]Handler
	workers     int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	poll        time.Duration
	now         func() time.Time
	metrics     *telemetry.Metrics
	logger      *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRunner creates a runner over store
func NewRunner(store Store, cfg *config.TasksConfig, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		store:       store,
		handlers:    make(map[string]Handler),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		poll:        cfg.PollInterval,
		now:         time.Now,
		metrics:     metrics,
		logger:      logging.WithComponent("tasks"),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register binds a handler to a task kind
func (r *Runner) Register(kind string, h Handler) {
	r.handlers[kind] = h
}

// Enqueue schedules a task to run as soon as a worker is free
func (r *Runner) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	return r.Schedule(ctx, kind, payload, 0)
}

// Schedule implements Scheduler
func (r *Runner) Schedule(ctx context.Context, kind string, payload interface{}, delay time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	task := Task{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: raw,
		RunAt:   r.now().Add(delay),
	}
	if err := r.store.Push(ctx, task); err != nil {
		return fmt.Errorf("schedule %s: %w", kind, err)
	}
	return nil
}

// Run executes due tasks until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Task runner started", zap.Int("workers", r.workers))

	jobs := make(chan Task)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				r.execute(ctx, task)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
		r.logger.Info("Task runner stopped")
	}()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		due, err := r.store.Due(ctx, r.now(), r.workers)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Failed to load due tasks", zap.Error(err))
		}
		for _, task := range due {
			select {
			case jobs <- task:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if len(due) == r.workers {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes every currently due task inline and returns how many ran
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	ran := 0
	for {
		due, err := r.store.Due(ctx, r.now(), 64)
		if err != nil {
			return ran, err
		}
		if len(due) == 0 {
			return ran, nil
		}
		for _, task := range due {
			r.execute(ctx, task)
			ran++
		}
	}
}

func (r *Runner) execute(ctx context.Context, task Task) {
	logger := r.logger.With(zap.String("kind", task.Kind), zap.String("task_id", task.ID), zap.Int("attempt", task.Attempt))

	h, ok := r.handlers[task.Kind]
	if !ok {
		logger.Error("Dropping task", zap.Error(ErrNoHandler))
		r.metrics.TaskResult(ctx, task.Kind, "dropped")
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "tasks."+task.Kind)
	defer span.End()

	err := r.safeCall(ctx, h, task)
	if err == nil {
		r.metrics.TaskResult(ctx, task.Kind, "ok")
		return
	}

	if IsPermanent(err) {
		logger.Warn("Task failed permanently", zap.Error(err))
		r.metrics.TaskResult(ctx, task.Kind, "failed")
		return
	}

	task.Attempt++
	if task.Attempt >= r.maxAttempts {
		logger.Warn("Task exhausted retries", zap.Error(err))
		r.metrics.TaskResult(ctx, task.Kind, "exhausted")
		return
	}

	r.mu.Lock()
	delay := Backoff(task.Attempt-1, r.baseBackoff, r.maxBackoff, r.rnd)
	r.mu.Unlock()
	task.RunAt = r.now().Add(delay)

	if perr := r.store.Push(ctx, task); perr != nil {
		logger.Error("Failed to reschedule task", zap.Error(perr))
		r.metrics.TaskResult(ctx, task.Kind, "lost")
		return
	}
	logger.Info("Task will be retried", zap.Error(err), zap.Duration("delay", delay))
	r.metrics.TaskResult(ctx, task.Kind, "retry")
}

func (r *Runner) safeCall(ctx context.Context, h Handler, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", p))
		}
	}()
	return h(ctx, task)
}
