package backplane

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-social-realtime/internal/hub"
	"github.com/weiawesome/wes-social-realtime/internal/metrics"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

const forwardTimeout = 2 * time.Second

// LocalNotifier is the in-process room fan-out wrapped by Notifier.
type LocalNotifier interface {
	Register(c hub.Conn) error
	Unregister(connID string)
	Join(connID, room string) error
	Emit(room, event string, payload interface{})
}

// Broadcaster sends a marshalled room event to the other instances.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, payload json.RawMessage) error
}

type outbound struct {
	room    string
	event   string
	payload json.RawMessage
}

// Notifier delivers emits to local sessions and forwards them to the other
// instances. Emit never blocks: forwarding runs on a background worker and
// an emit is dropped from the backplane when its queue is full.
type Notifier struct {
	local  LocalNotifier
	remote Broadcaster
	queue  chan outbound
	quit   chan struct{}
	doneCh chan struct{}
	log    zerolog.Logger
}

// NewNotifier creates a Notifier over local that forwards through remote.
func NewNotifier(local LocalNotifier, remote Broadcaster, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Notifier{
		local:  local,
		remote: remote,
		queue:  make(chan outbound, queueSize),
		quit:   make(chan struct{}),
		doneCh: make(chan struct{}),
		log:    pkglog.Component("backplane"),
	}
}

func (n *Notifier) Register(c hub.Conn) error      { return n.local.Register(c) }
func (n *Notifier) Unregister(connID string)       { n.local.Unregister(connID) }
func (n *Notifier) Join(connID, room string) error { return n.local.Join(connID, room) }

// Emit delivers to local room members, then queues the event for the
// other instances.
func (n *Notifier) Emit(room, event string, payload interface{}) {
	n.local.Emit(room, event, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.BackplaneMessages.WithLabelValues("out", "dropped").Inc()
		n.log.Warn().Err(err).Str(pkglog.FieldRoom, room).Str(pkglog.FieldEvent, event).
			Msg("backplane payload not encodable")
		return
	}

	select {
	case n.queue <- outbound{room: room, event: event, payload: data}:
	default:
		metrics.BackplaneMessages.WithLabelValues("out", "dropped").Inc()
		n.log.Warn().Str(pkglog.FieldRoom, room).Str(pkglog.FieldEvent, event).
			Msg("backplane queue full, emit not forwarded")
	}
}

// Start launches the forwarding worker in a background goroutine.
func (n *Notifier) Start(ctx context.Context) {
	go n.run(ctx)
}

// Stop signals the worker to forward what is queued and exit.
// Call Done() to wait for it to exit.
func (n *Notifier) Stop() {
	close(n.quit)
}

// Done returns a channel that is closed when the worker has fully stopped.
func (n *Notifier) Done() <-chan struct{} {
	return n.doneCh
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.doneCh)

	for {
		select {
		case out := <-n.queue:
			n.forward(ctx, out)
		case <-n.quit:
			n.drain(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			n.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

func (n *Notifier) drain(ctx context.Context) {
	for {
		select {
		case out := <-n.queue:
			n.forward(ctx, out)
		default:
			return
		}
	}
}

func (n *Notifier) forward(ctx context.Context, out outbound) {
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	if err := n.remote.Publish(ctx, out.room, out.event, out.payload); err != nil {
		n.log.Warn().Err(err).Str(pkglog.FieldRoom, out.room).Str(pkglog.FieldEvent, out.event).
			Msg("failed to forward emit")
	}
}
