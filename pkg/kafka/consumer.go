package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MessageHandler processes incoming Kafka messages
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// PoisonHandler receives messages that could not be parsed or kept failing.
// The message is committed only when it returns nil.
type PoisonHandler func(ctx context.Context, msg *IncomingMessage, reason string, err error) error

// Poison reasons
const (
	ReasonParseFailed      = "parse_failed"
	ReasonProcessingFailed = "processing_failed"
)

const (
	defaultMaxAttempts = 3
	retryBackoff       = 500 * time.Millisecond
)

// Consumer handles Kafka message consumption
type Consumer struct {
	reader      *kafka.Reader
	logger      ectologger.Logger
	handler     MessageHandler
	poison      PoisonHandler
	maxAttempts int
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// MaxAttempts is how often a message is handed to the handler before it
	// is given to the poison handler (default: 3)
	MaxAttempts int
}

// NewConsumer creates a new Kafka consumer. Offsets are committed only after
// the handler succeeded or the message was handed to poison.
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler, poison PoisonHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Consumer{
		reader:      reader,
		logger:      logger,
		handler:     handler,
		poison:      poison,
		maxAttempts: maxAttempts,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.reader.Config().Topic,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			continue
		}

		if !c.processMessage(ctx, msg) {
			return
		}
	}
}

// processMessage returns false when the message could not be settled; the
// offset stays uncommitted, the loop stops and the message is redelivered.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) bool {
	incoming := toIncoming(msg)
	if tp := incoming.TraceParent(); tp != "" {
		ctx = tracing.ExtractTraceParent(ctx, tp)
	}

	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	if !c.settle(ctx, log, incoming) {
		return false
	}
	return c.commit(ctx, log, msg)
}

// settle runs the handler with retries and falls back to the poison handler.
// It reports whether the message may be committed.
func (c *Consumer) settle(ctx context.Context, log ectologger.Logger, incoming *IncomingMessage) bool {
	if err := incoming.ParseFieldSets(); err != nil {
		log.WithError(err).Error("Failed to parse message")
		return c.sendPoison(ctx, log, incoming, ReasonParseFailed, err)
	}

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = c.handler(ctx, incoming); err == nil {
			return true
		}
		log.WithError(err).WithField("attempt", attempt).Warn("Failed to process message")

		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
	}

	log.WithError(err).Error("Giving up on message")
	return c.sendPoison(ctx, log, incoming, ReasonProcessingFailed, err)
}

func (c *Consumer) sendPoison(ctx context.Context, log ectologger.Logger, msg *IncomingMessage, reason string, err error) bool {
	if c.poison == nil {
		return true
	}
	if perr := c.poison(ctx, msg, reason, err); perr != nil {
		log.WithError(perr).WithField("reason", reason).Error("Failed to dead-letter message, leaving it uncommitted")
		return false
	}
	return true
}

func (c *Consumer) commit(ctx context.Context, log ectologger.Logger, msg kafka.Message) bool {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
		return ctx.Err() == nil
	}
	return true
}

func toIncoming(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

// Health returns the consumer health status
func (c *Consumer) Health() bool {
	return c.reader != nil
}
