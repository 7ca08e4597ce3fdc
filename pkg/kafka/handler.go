package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
)

// BatchProcessor processes a tenant's field-sets.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, tenantID string, fieldSets []*models.FieldSet) (*processor.BatchResult, error)
}

// DeadLetterSink stores messages that cannot be processed.
type DeadLetterSink interface {
	Add(ctx context.Context, entry *redis.DLQEntry) (string, error)
}

// NewFieldSetHandler hands parsed field-sets to the processor. A failed write
// fails the message so it is retried, and already applied emails are skipped
// on the retry. Invalid field-sets are dead-lettered individually, but only on
// the attempt that settles the batch, so retries do not repeat them. When the
// batch is finally poisoned they travel in the poisoned payload.
func NewFieldSetHandler(proc BatchProcessor, dlq DeadLetterSink, logger ectologger.Logger) MessageHandler {
	return func(ctx context.Context, msg *IncomingMessage) error {
		result, err := proc.ProcessBatch(ctx, msg.TenantID, msg.FieldSets)
		if err != nil {
			return err
		}

		failed := 0
		for _, out := range result.Outcomes {
			if out.Action == processor.ActionFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d field-sets failed", failed, len(result.Outcomes))
		}

		for i, out := range result.Outcomes {
			if out.Action != processor.ActionInvalid || msg.deadLettered[i] {
				continue
			}
			err := deadLetter(ctx, dlq, logger, &redis.DLQEntry{
				TenantID:     msg.TenantID,
				EmailID:      out.EmailID,
				Reason:       processor.ActionInvalid,
				ErrorMessage: out.Error,
				Payload:      marshalPayload(msg.FieldSets[i]),
			})
			if err != nil {
				return err
			}
			if msg.deadLettered == nil {
				msg.deadLettered = make(map[int]bool)
			}
			msg.deadLettered[i] = true
		}
		return nil
	}
}

// NewDeadLetterPoison stores poisoned messages in the dead letter queue.
func NewDeadLetterPoison(dlq DeadLetterSink, logger ectologger.Logger) PoisonHandler {
	return func(ctx context.Context, msg *IncomingMessage, reason string, err error) error {
		entry := &redis.DLQEntry{
			TenantID: msg.TenantID,
			Reason:   reason,
			Payload:  rawPayload(msg.Value),
		}
		if entry.TenantID == "" {
			entry.TenantID = msg.Headers[HeaderTenantID]
		}
		if err != nil {
			entry.ErrorMessage = err.Error()
		}
		return deadLetter(ctx, dlq, logger, entry)
	}
}

// deadLetter stores the entry. Without a queue the entry is logged and
// dropped.
func deadLetter(ctx context.Context, dlq DeadLetterSink, logger ectologger.Logger, entry *redis.DLQEntry) error {
	metrics.DLQTotal.WithLabelValues(entry.Reason).Inc()
	if dlq == nil {
		logger.WithContext(ctx).WithField("reason", entry.Reason).Warn("Dropping field-set, no dead letter queue configured")
		return nil
	}
	if _, err := dlq.Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to dead-letter %s entry: %w", entry.Reason, err)
	}
	return nil
}

func marshalPayload(fs *models.FieldSet) json.RawMessage {
	if fs == nil {
		return nil
	}
	data, err := json.Marshal(fs)
	if err != nil {
		return nil
	}
	return data
}

// rawPayload keeps the original bytes when they are valid JSON.
func rawPayload(value []byte) json.RawMessage {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	data, _ := json.Marshal(string(value))
	return data
}
