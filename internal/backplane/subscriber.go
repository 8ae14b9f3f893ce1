package backplane

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/metrics"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
	"github.com/weiawesome/wes-social-realtime/pkg/pubsub"
)

// Emitter delivers an event to local room members.
type Emitter interface {
	Emit(room, event string, payload interface{})
}

// Subscriber re-emits other instances' room events to local sessions.
type Subscriber struct {
	bus        pubsub.Subscriber
	emitter    Emitter
	instanceID string
	retryDelay time.Duration
	doneCh     chan struct{}
	log        zerolog.Logger
}

// NewSubscriber creates a new backplane subscriber.
func NewSubscriber(bus pubsub.Subscriber, emitter Emitter, instanceID string) *Subscriber {
	return &Subscriber{
		bus:        bus,
		emitter:    emitter,
		instanceID: instanceID,
		retryDelay: 2 * time.Second,
		doneCh:     make(chan struct{}),
		log:        pkglog.Component("backplane"),
	}
}

// Done returns a channel that is closed when Run() exits.
func (s *Subscriber) Done() <-chan struct{} { return s.doneCh }

// Run consumes the room fan-out pattern until ctx is done. A subscription
// that ends early is re-established after a short delay.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		events, err := s.bus.SubscribePattern(ctx, pubsub.PatternRoomFanout)
		if err != nil {
			s.log.Warn().Err(err).Msg("backplane subscription failed")
		} else {
			for ev := range events {
				s.handleEvent(ev)
			}
		}

		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Dur("retry_in", s.retryDelay).Msg("backplane subscription ended, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Subscriber) handleEvent(ev *pubsub.Event) {
	if ev == nil || ev.Origin == s.instanceID {
		return
	}
	if !domain.IsKnownEvent(ev.Type) {
		metrics.BackplaneMessages.WithLabelValues("in", "rejected").Inc()
		s.log.Warn().Str(pkglog.FieldEvent, ev.Type).Msg("backplane: unknown event dropped")
		return
	}
	if err := domain.ValidateRoom(ev.RoomID); err != nil {
		metrics.BackplaneMessages.WithLabelValues("in", "rejected").Inc()
		s.log.Warn().Err(err).Msg("backplane: invalid room dropped")
		return
	}

	metrics.BackplaneMessages.WithLabelValues("in", "ok").Inc()
	s.emitter.Emit(ev.RoomID, ev.Type, ev.Payload)
}
