package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

const (
	kafkaPollMs      = 500
	kafkaFlushMs     = 5000
	kafkaDefaultPart = 4
)

// KafkaPubSub carries every fan-out channel on TopicRoomFanout, keyed by
// room. Each subscription is its own consumer in cfg.GroupID.
type KafkaPubSub struct {
	producer *kafka.Producer
	cfg      KafkaConfig
	log      zerolog.Logger
	dropped  atomic.Uint64
	reportCh chan struct{}

	mu     sync.Mutex
	subs   []*kafkaSubscription
	closed bool
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka pubsub: group id is required")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		producer: p,
		cfg:      cfg,
		log:      pkglog.Component("pubsub").With().Str("driver", DriverKafka).Logger(),
		reportCh: make(chan struct{}),
	}
	go k.deliveryReports()

	if err := k.ensureTopic(); err != nil {
		k.log.Warn().Err(err).Str("topic", TopicRoomFanout).Msg("could not ensure fan-out topic")
	}
	return k, nil
}

func (k *KafkaPubSub) ensureTopic() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.cfg.Partitions
	if partitions <= 0 {
		partitions = kafkaDefaultPart
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             TopicRoomFanout,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, res := range results {
		if code := res.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return res.Error
		}
	}
	return nil
}

func (k *KafkaPubSub) deliveryReports() {
	defer close(k.reportCh)
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			k.log.Warn().Err(m.TopicPartition.Error).Str("room", string(m.Key)).Msg("fan-out delivery failed")
		}
	}
}

func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := topicForChannel(channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// SubscribePattern starts reading the fan-out topic from the latest offset;
// events published before the call are not replayed.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := topicForPattern(pattern)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.cfg.Brokers,
		"group.id":           k.cfg.GroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}
	k.subs = append(k.subs, sub)

	out := make(chan *Event, eventBuffer)
	go k.poll(subCtx, sub, out)
	return out, nil
}

func (k *KafkaPubSub) poll(ctx context.Context, sub *kafkaSubscription, out chan<- *Event) {
	defer close(sub.done)
	defer close(out)

	for ctx.Err() == nil {
		switch e := sub.consumer.Poll(kafkaPollMs).(type) {
		case nil:
		case *kafka.Message:
			ev, err := decodeEvent(e.Value)
			if err != nil {
				k.log.Warn().Err(err).Str("room", string(e.Key)).Msg("undecodable event")
				continue
			}
			if !forward(ctx, out, ev, k.onDrop) {
				return
			}
		case kafka.Error:
			k.log.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("fan-out consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

func (k *KafkaPubSub) onDrop() {
	if n := k.dropped.Add(1); n == 1 || n%1000 == 0 {
		k.log.Warn().Uint64("dropped", n).Msg("subscriber lagging, events dropped")
	}
}

// Close stops every subscription, waits for its poll loop to exit, then
// flushes and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	subs := k.subs
	k.subs = nil
	k.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
		if err := sub.consumer.Close(); err != nil {
			k.log.Warn().Err(err).Msg("closing fan-out consumer")
		}
	}

	if remaining := k.producer.Flush(kafkaFlushMs); remaining > 0 {
		k.log.Warn().Int("remaining", remaining).Msg("unflushed fan-out events")
	}
	k.producer.Close()
	<-k.reportCh
	return nil
}
