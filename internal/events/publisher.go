// Package events publishes harvest lifecycle events to Kafka and consumes
// operator commands from the command topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/citation-harvest-service/internal/config"
	"github.com/helixir/citation-harvest-service/internal/domain"
)

// Publisher emits harvest lifecycle events. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event domain.HarvestEvent) error
	Close() error
}

// Compile-time interface verification.
var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*NoopPublisher)(nil)
)

// KafkaPublisher writes harvest events to the events topic. Messages are
// keyed by target ID so per-target ordering is preserved.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher for the configured events topic.
func NewKafkaPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish sends one event. The envelope's EventID and EmittedAt are filled
// in when the caller left them zero.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.HarvestEvent) error {
	if event.EventType == "" {
		return domain.NewValidationError("event_type", "event type is required")
	}
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal harvest event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.TargetID.String()),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write harvest event %s: %w", event.EventType, err)
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("event_id", event.EventID.String()).
		Str("target_id", event.TargetID.String()).
		Msg("published harvest event")

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops all events. Used when Kafka is disabled.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that discards events.
func NewNoopPublisher() *NoopPublisher { return &NoopPublisher{} }

func (*NoopPublisher) Publish(context.Context, domain.HarvestEvent) error { return nil }

func (*NoopPublisher) Close() error { return nil }
