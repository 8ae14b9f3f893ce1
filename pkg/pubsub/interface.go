// Package pubsub carries room events between gateway instances over Redis
// pub/sub or a Kafka topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("pubsub: closed")

// Event is one room emit as it travels on the bus.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Origin    string          `json:"origin,omitempty"` // publishing instance ID
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// eventBuffer is the per-subscription channel capacity. Events beyond it are
// dropped; a slow subscriber never stalls the bus connection.
const eventBuffer = 256

type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber delivers every event whose channel matches pattern until ctx is
// done or the bus is closed, then closes the returned channel.
type Subscriber interface {
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
}

type PubSub interface {
	Publisher
	Subscriber
	Close() error
}

func decodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// forward hands ev to out without blocking. It reports false once ctx is done.
func forward(ctx context.Context, out chan<- *Event, ev *Event, onDrop func()) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case out <- ev:
	default:
		onDrop()
	}
	return true
}
