package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

// RedisPubSub is the default backplane driver. Redis pub/sub is fire and
// forget: instances that are down while an event is published never see it.
type RedisPubSub struct {
	client  *redis.Client
	log     zerolog.Logger
	dropped atomic.Uint64

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisPubSubWithClient(client), nil
}

// NewRedisPubSubWithClient wraps an existing client. Close closes it.
func NewRedisPubSubWithClient(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client: client,
		log:    pkglog.Component("pubsub").With().Str("driver", DriverRedis).Logger(),
	}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	sub := r.client.PSubscribe(ctx, pattern)
	// Receive blocks until the subscription is confirmed, so a dead server
	// surfaces here instead of as a silently empty channel.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	r.subs = append(r.subs, sub)

	out := make(chan *Event, eventBuffer)
	go r.pump(ctx, sub, out)
	return out, nil
}

func (r *RedisPubSub) pump(ctx context.Context, sub *redis.PubSub, out chan<- *Event) {
	defer close(out)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("undecodable event")
				continue
			}
			if !forward(ctx, out, ev, r.onDrop) {
				return
			}
		}
	}
}

func (r *RedisPubSub) onDrop() {
	if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
		r.log.Warn().Uint64("dropped", n).Msg("subscriber lagging, events dropped")
	}
}

// Close ends every subscription, which closes their event channels, and then
// the client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	for _, sub := range r.subs {
		if err := sub.Close(); err != nil {
			r.log.Debug().Err(err).Msg("closing subscription")
		}
	}
	r.subs = nil
	return r.client.Close()
}
