package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Mapping event types
const (
	EventMappingCreated = "mapping.created"
	EventMappingUpdated = "mapping.updated"
	EventMappingDeleted = "mapping.deleted"
)

// MappingEvent describes a change to a mapped control. Added and Removed
// carry the association delta that was applied, keyed by relation name.
type MappingEvent struct {
	EventType       string                 `json:"event_type"`
	TenantID        string                 `json:"tenant_id"`
	MappedControlID string                 `json:"mapped_control_id"`
	MappingType     string                 `json:"mapping_type,omitempty"`
	Confidence      int                    `json:"confidence,omitempty"`
	Added           mapping.AssociationMap `json:"added,omitempty"`
	Removed         mapping.AssociationMap `json:"removed,omitempty"`
	UserID          string                 `json:"user_id,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// PublishMappingEvent publishes a mapping lifecycle event to Kafka
func (p *Producer) PublishMappingEvent(ctx context.Context, event *MappingEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishMappingEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.MappedControlID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
			{Key: "schema_version", Value: []byte("1.0")},
		},
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish mapping event")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":        event.EventType,
		"mapped_control_id": event.MappedControlID,
	}).Debug("Published mapping event")

	return nil
}
