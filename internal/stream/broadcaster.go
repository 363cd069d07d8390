// Package stream publishes live timeline events and relays them to
// websocket clients. Delivery is best effort and has no replay.
package stream

import (
	"context"
	"encoding/json"
)

// Message is one payload received on a channel
type Message struct {
	Channel string
	Payload []byte
}

// Broadcaster publishes payloads to named channels
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber delivers payloads published to channels until closed
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription is a live feed of messages
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Event is the payload published for one status
type Event struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// Frame is an Event as written to a websocket client
type Frame struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// NewEvent encodes an event whose payload is v serialized as JSON
func NewEvent(event string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: event, Payload: string(body)})
}

// frameFor wraps a published event for the client of channel
func frameFor(m Message) ([]byte, error) {
	var ev Event
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Stream: []string{m.Channel}, Event: ev.Event, Payload: ev.Payload})
}
