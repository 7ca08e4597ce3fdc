package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Producer publishes order events
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
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compressionCodec(cfg.Compression),
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Snappy
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// OrderEvent is published whenever an order is created or changes.
type OrderEvent struct {
	EventType     string          `json:"event_type"`
	SchemaVersion string          `json:"schema_version"`
	TenantID      string          `json:"tenant_id"`
	OrderID       string          `json:"order_id"`
	OrderKey      string          `json:"order_key"`
	EmailID       string          `json:"email_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Version       int             `json:"version"`
	Fingerprint   string          `json:"fingerprint,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PublishOrderEvent publishes an order event keyed by order id, so events
// for one order stay on one partition.
func (p *Producer) PublishOrderEvent(ctx context.Context, event *OrderEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishOrderEvent")
	defer span.End()

	msg, err := orderEventMessage(p.topic, event, tracing.GetTraceParent(ctx))
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish order event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"order_id":   event.OrderID,
	}).Debug("Published order event")

	return nil
}

func orderEventMessage(topic string, event *OrderEvent, traceParent string) (kafka.Message, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.EventType)},
		{Key: HeaderTenantID, Value: []byte(event.TenantID)},
		{Key: HeaderSchemaVersion, Value: []byte(event.SchemaVersion)},
	}
	if traceParent != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(traceParent)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(event.OrderID),
		Value:   data,
		Headers: headers,
	}, nil
}
