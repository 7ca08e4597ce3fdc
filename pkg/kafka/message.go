package kafka

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Header keys
const (
	HeaderEventType     = "event_type"
	HeaderTenantID      = "tenant_id"
	HeaderSchemaVersion = "schema_version"
	HeaderTraceParent   = "traceparent"
)

// ErrMissingTenant is returned when neither the body nor the headers name a tenant.
var ErrMissingTenant = errors.New("message has no tenant id")

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	TenantID  string
	FieldSets []*models.FieldSet

	// indexes of field-sets already dead-lettered while handling this message
	deadLettered map[int]bool
}

// TraceParent returns the W3C trace context header, if any.
func (m *IncomingMessage) TraceParent() string {
	return m.Headers[HeaderTraceParent]
}

// ParseFieldSets decodes the value as one field-set or a JSON array of them
// and resolves the tenant. Field-sets without a tenant inherit the header's.
func (m *IncomingMessage) ParseFieldSets() error {
	value := bytes.TrimSpace(m.Value)
	if len(value) == 0 {
		return errors.New("empty message")
	}

	var fieldSets []*models.FieldSet
	if value[0] == '[' {
		if err := json.Unmarshal(value, &fieldSets); err != nil {
			return fmt.Errorf("failed to decode field-set batch: %w", err)
		}
	} else {
		var fs models.FieldSet
		if err := json.Unmarshal(value, &fs); err != nil {
			return fmt.Errorf("failed to decode field-set: %w", err)
		}
		fieldSets = []*models.FieldSet{&fs}
	}

	tenantID := m.Headers[HeaderTenantID]
	for _, fs := range fieldSets {
		if fs == nil {
			continue
		}
		if tenantID == "" {
			tenantID = fs.TenantID
		}
		if fs.TenantID == "" {
			fs.TenantID = tenantID
		}
	}
	if tenantID == "" {
		return ErrMissingTenant
	}

	m.TenantID = tenantID
	m.FieldSets = fieldSets
	return nil
}
