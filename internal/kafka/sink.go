package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/wholesale-orders/internal/orders"
)

type messagePublisher interface {
	Publish(ctx context.Context, m kafka.Message)
}

// EventSink turns order envelopes into keyed Kafka messages.
type EventSink struct {
	out    messagePublisher
	logger *zap.Logger
	// EnqueueTimeout bounds how long Publish waits for room in the producer inbox.
	EnqueueTimeout time.Duration
}

func NewEventSink(out messagePublisher, logger *zap.Logger) *EventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventSink{out: out, logger: logger, EnqueueTimeout: 2 * time.Second}
}

func (s *EventSink) Publish(ctx context.Context, topic string, env orders.Envelope) {
	value, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("marshal envelope", zap.String("event_type", env.EventType), zap.Error(err))
		return
	}
	m := kafka.Message{
		Topic: topic,
		Key:   orders.PartitionKey(env.CorrelationID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(env.EventType)},
			{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	}
	InjectTrace(ctx, &m)

	// The transaction already committed; a cancelled request must not drop its event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.EnqueueTimeout)
	defer cancel()
	s.out.Publish(ctx, m)
}
