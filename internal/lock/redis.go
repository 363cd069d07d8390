package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// RedisLocker is a Locker backed by SET NX PX with a token compare-and-delete release
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a locker namespacing keys under prefix
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Key returns the Redis key holding the lock on key
func (l *RedisLocker) Key(key string) string {
	return l.prefix + "lock:" + key
}

// Acquire implements Locker
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	fullKey := l.Key(key)
	token := uuid.NewString()

	err := poll(ctx, wait, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("lock %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	return &redisLease{client: l.client, key: fullKey, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

// Release deletes the key only while it still holds this lease's token,
// so a lease that outlived its ttl cannot drop someone else's lock.
func (l *redisLease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err == redis.Nil {
		return nil
	}
	return err
}
