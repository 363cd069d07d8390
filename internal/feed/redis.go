package feed

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RedisQueue keeps each feed in a sorted set. Every member has score 0 and
// is the zero-padded status id, so the set orders lexically by id without
// float precision loss on large ids.
type RedisQueue struct {
	client     *redis.Client
	prefix     string
	maxEntries int
}

// NewRedisQueue creates a queue that trims each feed to maxEntries
func NewRedisQueue(client *redis.Client, prefix string, maxEntries int) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix, maxEntries: maxEntries}
}

// Enqueue adds entries in one pipeline and trims the touched feeds
func (q *RedisQueue) Enqueue(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	touched := make(map[string]bool)
	pipe := q.client.Pipeline()
	for _, e := range entries {
		key := q.prefix + e.Key
		pipe.ZAddNX(ctx, key, &redis.Z{Score: 0, Member: member(e.StatusID)})
		touched[key] = true
	}
	if q.maxEntries > 0 {
		for key := range touched {
			pipe.ZRemRangeByRank(ctx, key, 0, int64(-q.maxEntries-1))
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Range returns up to n status ids of key, newest first
func (q *RedisQueue) Range(ctx context.Context, key string, n int) ([]int64, error) {
	members, err := q.client.ZRevRange(ctx, q.prefix+key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove deletes a status from one feed
func (q *RedisQueue) Remove(ctx context.Context, key string, statusID int64) error {
	return q.client.ZRem(ctx, q.prefix+key, member(statusID)).Err()
}
