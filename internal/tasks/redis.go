package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps tasks in a sorted set scored by run time in milliseconds.
// Due claims a task by removing it, so concurrent workers never run it twice.
type RedisStore struct {
	client   *redis.Client
	key      string
	capacity int64
}

// NewRedisStore creates a store under key holding at most capacity tasks
func NewRedisStore(client *redis.Client, key string, capacity int) *RedisStore {
	return &RedisStore{client: client, key: key, capacity: int64(capacity)}
}

// Push implements Store
func (s *RedisStore) Push(ctx context.Context, task Task) error {
	if s.capacity > 0 {
		n, err := s.client.ZCard(ctx, s.key).Result()
		if err != nil {
			return err
		}
		if n >= s.capacity {
			return ErrQueueFull
		}
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return s.client.ZAdd(ctx, s.key, &redis.Z{
		Score:  float64(task.RunAt.UnixMilli()),
		Member: raw,
	}).Err()
}

// Due implements Store
func (s *RedisStore) Due(ctx context.Context, now time.Time, max int) ([]Task, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(members))
	for _, m := range members {
		removed, err := s.client.ZRem(ctx, s.key, m).Result()
		if err != nil {
			return tasks, err
		}
		if removed == 0 {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
