package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// KAFKA PUBLISHER
// Fans pipeline events out to downstream consumers (dashboards, the
// notification service). Messages are keyed by aggregate ID so all
// events of one alert land in the same partition, in order.
// ══════════════════════════════════════════════════════════════════════════════

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	// Brokers is the list of broker addresses.
	Brokers []string

	// Topic is the destination topic.
	Topic string

	// BatchTimeout bounds how long the writer buffers before flushing.
	BatchTimeout time.Duration

	// WriteTimeout bounds a single produce round trip.
	WriteTimeout time.Duration
}

// DefaultKafkaConfig returns sensible defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "insights-hub.alerts",
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

// KafkaPublisher publishes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

// NewKafkaPublisher creates a new KafkaPublisher.
func NewKafkaPublisher(cfg KafkaConfig, log *logger.Logger) *KafkaPublisher {
	if log == nil {
		log = logger.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{
		writer: writer,
		logger: log.With(logger.String("component", "kafka_publisher")),
	}
}

// PublishEvent writes one domain event to the topic.
func (p *KafkaPublisher) PublishEvent(ctx context.Context, event shared.Event) error {
	envelope := wireEnvelope{
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("kafka publish: marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}

	p.logger.Debug("event published to kafka",
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()))
	return nil
}

// Handler adapts the publisher to a shared.EventHandler for dispatcher
// registration.
func (p *KafkaPublisher) Handler(timeout time.Duration) shared.EventHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return p.PublishEvent(ctx, event)
	}
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
