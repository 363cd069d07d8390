package stream

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisBroadcaster publishes through Redis pub/sub
type RedisBroadcaster struct {
	client *redis.Client
	prefix string
}

// NewRedisBroadcaster creates a broadcaster whose channel names carry prefix
func NewRedisBroadcaster(client *redis.Client, prefix string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, prefix: prefix}
}

// Publish sends payload to channel
func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, b.prefix+channel, payload).Err()
}

// Subscribe listens on channels
func (b *RedisBroadcaster) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = b.prefix + ch
	}
	ps := b.client.Subscribe(ctx, names...)
	// wait for the subscription confirmation so early publishes are not lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{ps: ps, out: make(chan Message, 64)}
	go func() {
		defer close(sub.out)
		for m := range ps.Channel() {
			sub.out <- Message{Channel: strings.TrimPrefix(m.Channel, b.prefix), Payload: []byte(m.Payload)}
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Message
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error { return s.ps.Close() }
