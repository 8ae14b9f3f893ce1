package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/metrics"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

// ConfluentConsumer implements SocialEventConsumer using confluent-kafka-go.
// Every message value is a JSON NotifyRequest.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  NotifyHandler
	doneCh   chan struct{}
	log      zerolog.Logger
}

// NewConfluentConsumer creates a new Kafka consumer for social events.
func NewConfluentConsumer(brokers, topic, groupID string, handler NotifyHandler) (*ConfluentConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    topic,
		handler:  handler,
		doneCh:   make(chan struct{}),
		log:      pkglog.Component("kafka").With().Str("topic", topic).Logger(),
	}, nil
}

// Start subscribes and begins consuming in the background.
func (cc *ConfluentConsumer) Start(ctx context.Context) error {
	if err := cc.consumer.Subscribe(cc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", cc.topic, err)
	}

	cc.log.Info().Msg("kafka consumer subscribed")

	go cc.consumeLoop(ctx)

	return nil
}

func (cc *ConfluentConsumer) consumeLoop(ctx context.Context) {
	defer close(cc.doneCh)

	for {
		select {
		case <-ctx.Done():
			cc.log.Info().Msg("kafka consumer shutting down")
			return
		default:
			msg, err := cc.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				var kerr kafka.Error
				if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				cc.log.Warn().Err(err).Msg("kafka consumer error")
				continue
			}

			cc.processMessage(ctx, msg.Value)
		}
	}
}

func (cc *ConfluentConsumer) processMessage(ctx context.Context, value []byte) {
	req, err := decodeSocialEvent(value)
	if err != nil {
		metrics.SocialEvents.WithLabelValues("malformed").Inc()
		cc.log.Warn().Err(err).Msg("dropping malformed social event")
		return
	}

	if err := cc.handler.Notify(ctx, req); err != nil {
		metrics.SocialEvents.WithLabelValues("rejected").Inc()
		cc.log.Warn().Err(err).Str(pkglog.FieldEvent, req.Event).Msg("failed to handle social event")
		return
	}
	metrics.SocialEvents.WithLabelValues("ok").Inc()
}

func decodeSocialEvent(value []byte) (*domain.NotifyRequest, error) {
	var req domain.NotifyRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return nil, fmt.Errorf("unmarshal social event: %w", err)
	}
	return &req, nil
}

// Close waits for the consume loop to exit, then closes the consumer. Cancel
// the context passed to Start first.
func (cc *ConfluentConsumer) Close() error {
	<-cc.doneCh
	if err := cc.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	return nil
}
