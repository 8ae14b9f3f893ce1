// Package backplane carries room emits between gateway instances over the
// shared pub/sub bus.
package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-social-realtime/internal/metrics"
	"github.com/weiawesome/wes-social-realtime/pkg/pubsub"
)

// Publisher forwards local emits to the other instances.
type Publisher struct {
	bus        pubsub.Publisher
	instanceID string
}

// NewPublisher creates a Publisher that stamps events with instanceID.
func NewPublisher(bus pubsub.Publisher, instanceID string) *Publisher {
	return &Publisher{bus: bus, instanceID: instanceID}
}

// Publish sends (event, payload) for room to every instance.
func (p *Publisher) Publish(ctx context.Context, room, event string, payload json.RawMessage) error {
	ev := &pubsub.Event{
		Type:      event,
		RoomID:    room,
		Origin:    p.instanceID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := p.bus.Publish(ctx, pubsub.RoomFanoutChannel(room), ev); err != nil {
		metrics.BackplaneMessages.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("publish room fanout: %w", err)
	}
	metrics.BackplaneMessages.WithLabelValues("out", "ok").Inc()
	return nil
}
