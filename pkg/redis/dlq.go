package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultDLQStream is the default dead letter stream name
	DefaultDLQStream = "fern:dlq"

	// DLQMaxLen caps the stream; the oldest entries are trimmed
	DLQMaxLen = 10000

	dlqPageSize = 100
)

// DeadLetterQueue stores field-sets that could not be processed.
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

// NewDeadLetterQueue creates a dead letter queue on a Redis stream.
func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

// DLQEntry is one dead-lettered message.
type DLQEntry struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	EmailID      string          `json:"email_id,omitempty"`
	Reason       string          `json:"reason"`
	ErrorMessage string          `json:"error_message"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	TraceID      string          `json:"trace_id,omitempty"`
}

// Add appends an entry to the stream.
func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	messageID, err := d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]any{
			"data":      string(data),
			"tenant_id": entry.TenantID,
			"reason":    entry.Reason,
		},
	}).Result()
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to add field-set to DLQ")
		return "", fmt.Errorf("failed to add to DLQ: %w", err)
	}

	d.logger.WithContext(ctx).Infof("Added field-set to DLQ: id=%s email=%s reason=%s", entry.ID, entry.EmailID, entry.Reason)
	return messageID, nil
}

// ListByTenant returns the newest entries for a tenant.
func (d *DeadLetterQueue) ListByTenant(ctx context.Context, tenantID string, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.ListByTenant")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	read := func(ctx context.Context, end string, n int64) ([]redis.XMessage, error) {
		return d.client.Redis().XRevRangeN(ctx, d.streamName, end, "-", n).Result()
	}
	entries, err := collectTenantEntries(ctx, d.logger.WithContext(ctx), read, tenantID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}
	return entries, nil
}

type streamPageReader func(ctx context.Context, end string, n int64) ([]redis.XMessage, error)

// collectTenantEntries walks the shared stream newest first, page by page,
// until count entries for the tenant are found or the stream is exhausted.
func collectTenantEntries(ctx context.Context, logger ectologger.Logger, read streamPageReader, tenantID string, count int64) ([]DLQEntry, error) {
	pageSize := max(count*4, dlqPageSize)
	entries := make([]DLQEntry, 0)
	end := "+"
	for {
		messages, err := read(ctx, end, pageSize)
		if err != nil {
			return nil, err
		}
		entries = append(entries, decodeEntries(logger, messages, tenantID, count-int64(len(entries)))...)
		if int64(len(entries)) >= count || int64(len(messages)) < pageSize {
			return entries, nil
		}
		// exclusive bound so the last entry is not read twice
		end = "(" + messages[len(messages)-1].ID
	}
}

func decodeEntries(logger ectologger.Logger, messages []redis.XMessage, tenantID string, count int64) []DLQEntry {
	entries := make([]DLQEntry, 0)
	for _, msg := range messages {
		if t, _ := msg.Values["tenant_id"].(string); t != tenantID {
			continue
		}
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		var entry DLQEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			logger.WithError(err).Warnf("Failed to unmarshal DLQ entry: %s", msg.ID)
			continue
		}
		entries = append(entries, entry)
		if int64(len(entries)) >= count {
			break
		}
	}
	return entries
}
