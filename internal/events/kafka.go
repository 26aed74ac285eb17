package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"wxpass/internal/platform/kafka/producer"
)

// KafkaPublisher writes events to a single Kafka topic, keyed by identity so
// one buyer's history stays in order within a partition.
type KafkaPublisher struct {
	producer *producer.Producer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher wraps a producer for the given topic.
func NewKafkaPublisher(p *producer.Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: p,
		topic:    topic,
		logger:   logger,
	}
}

// Emit publishes the event asynchronously. Failures are logged, never
// propagated: an unreachable broker must not gate requests.
func (k *KafkaPublisher) Emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		k.logger.ErrorContext(ctx, "marshal event", "action", e.Action, "error", err)
		return
	}

	msg := &producer.Message{
		Topic: k.topic,
		Key:   []byte(e.Identity),
		Value: value,
		Headers: map[string]string{
			"action": string(e.Action),
		},
	}
	if err := k.producer.ProduceAsync(msg); err != nil {
		k.logger.ErrorContext(ctx, "publish event", "action", e.Action, "error", err)
	}
}
