package stream

import (
	"context"
	"sync"
)

// MemoryBroadcaster is an in-process Broadcaster and Subscriber. Channels
// listed in Fail reject publishes with the mapped error.
type MemoryBroadcaster struct {
	mu        sync.Mutex
	subs      map[*memorySubscription]bool
	published []Message
	Fail      map[string]error
}

// NewMemoryBroadcaster creates an empty broadcaster
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[*memorySubscription]bool)}
}

func (b *MemoryBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.Fail[channel]; err != nil {
		return err
	}
	m := Message{Channel: channel, Payload: payload}
	b.published = append(b.published, m)
	for sub := range b.subs {
		if !sub.channels[channel] {
			continue
		}
		select {
		case sub.out <- m:
		default:
			// slow subscribers drop messages
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	sub := &memorySubscription{b: b, channels: make(map[string]bool), out: make(chan Message, 64)}
	for _, ch := range channels {
		sub.channels[ch] = true
	}
	b.mu.Lock()
	b.subs[sub] = true
	b.mu.Unlock()
	return sub, nil
}

// Published returns every successfully published message in order
func (b *MemoryBroadcaster) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

type memorySubscription struct {
	b        *MemoryBroadcaster
	channels map[string]bool
	out      chan Message
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.out)
	})
	return nil
}
