// Package processor turns extracted field-sets into orders. It is the single
// writer for a tenant: batches run under the tenant lock, one field-set at a
// time, and indexes move only after the repository write committed.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/index"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orderkey"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Outcome actions. Created, merged, unchanged and skipped mirror the metric
// labels.
const (
	ActionCreated   = metrics.ActionCreated
	ActionMerged    = metrics.ActionMerged
	ActionUnchanged = metrics.ActionUnchanged
	ActionSkipped   = metrics.ActionSkipped
	ActionInvalid   = "invalid"
	ActionFailed    = "failed"
)

// OrderStore persists orders.
type OrderStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListByTenant(ctx context.Context, tenantID string) ([]*models.Order, error)
	Create(ctx context.Context, o *models.Order) error
	ApplyChanges(ctx context.Context, tenantID, id string, changes map[string]any) error
}

// TenantLocker serializes batches per tenant.
type TenantLocker interface {
	LockTenant(ctx context.Context, tenantID string) (func(context.Context) error, error)
}

// Emitter publishes order events.
type Emitter interface {
	EmitOrderCreated(ctx context.Context, o *models.Order, emailID string) error
	EmitOrderMerged(ctx context.Context, result *models.MergeResult, emailID string, res models.Resolution) error
}

// Projector mirrors orders into the provenance graph.
type Projector interface {
	ProjectOrder(ctx context.Context, o *models.Order, emailID string) error
}

// Outcome describes what happened to one field-set.
type Outcome struct {
	EmailID    string           `json:"email_id"`
	OrderID    string           `json:"order_id,omitempty"`
	OrderKey   string           `json:"order_key,omitempty"`
	Action     string           `json:"action"`
	Match      models.MatchKind `json:"match,omitempty"`
	Similarity float64          `json:"similarity,omitempty"`
	Changed    []string         `json:"changed,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BatchResult is the result of ProcessBatch.
type BatchResult struct {
	TenantID string            `json:"tenant_id"`
	Outcomes []Outcome         `json:"outcomes"`
	Stats    models.MatchStats `json:"stats"`
}

// Count returns how many outcomes have the given action.
func (b *BatchResult) Count(action string) int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) { p.clock = clock }
}

// WithIDGenerator overrides how new order ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(p *Processor) { p.newID = gen }
}

// WithLocker serializes batches with the given tenant locker.
func WithLocker(locker TenantLocker) Option {
	return func(p *Processor) { p.locker = locker }
}

// WithEmitter publishes an event per created or changed order.
func WithEmitter(emitter Emitter) Option {
	return func(p *Processor) { p.emitter = emitter }
}

// WithProjector enables the graph projection.
func WithProjector(projector Projector) Option {
	return func(p *Processor) { p.projector = projector }
}

// Processor resolves, merges and persists field-sets.
type Processor struct {
	logger    ectologger.Logger
	store     OrderStore
	resolver  *matching.Resolver
	engine    *merging.Engine
	validate  *validator.Validate
	locker    TenantLocker
	emitter   Emitter
	projector Projector
	clock     func() time.Time
	newID     func() string
}

// NewProcessor creates a processor.
func NewProcessor(logger ectologger.Logger, store OrderStore, resolver *matching.Resolver, engine *merging.Engine, opts ...Option) *Processor {
	p := &Processor{
		logger:   logger,
		store:    store,
		resolver: resolver,
		engine:   engine,
		validate: validator.New(),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// tenantState is the working set of one batch.
type tenantState struct {
	orders map[string]*models.Order
	idx    *index.Indexes
	// emails maps a contributing email id to its order key
	emails map[string]string
}

func newTenantState(orders []*models.Order) *tenantState {
	st := &tenantState{
		orders: make(map[string]*models.Order, len(orders)),
		idx:    index.Build(orders),
		emails: make(map[string]string),
	}
	for _, o := range orders {
		st.put(o)
	}
	return st
}

func (st *tenantState) put(o *models.Order) {
	st.orders[o.OrderKey] = o
	for _, id := range o.SourceEmailIDs {
		if _, ok := st.emails[id]; !ok {
			st.emails[id] = o.OrderKey
		}
	}
}

// ProcessBatch processes field-sets in order for one tenant. Per field-set
// failures are reported in the outcomes; the error is returned only when the
// batch could not run at all.
func (p *Processor) ProcessBatch(ctx context.Context, tenantID string, fieldSets []*models.FieldSet) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.ProcessBatch")
	defer span.End()

	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  tenantID,
		"batch_size": len(fieldSets),
	})

	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	if p.locker != nil {
		release, err := p.locker.LockTenant(ctx, tenantID)
		if err != nil {
			log.WithError(err).Error("Failed to acquire tenant lock")
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("Failed to release tenant lock")
			}
		}()
	}

	existing, err := p.store.ListByTenant(ctx, tenantID)
	if err != nil {
		log.WithError(err).Error("Failed to load tenant orders")
		return nil, fmt.Errorf("failed to load orders for tenant %s: %w", tenantID, err)
	}
	st := newTenantState(existing)

	result := &BatchResult{TenantID: tenantID, Outcomes: make([]Outcome, 0, len(fieldSets))}
	for _, fs := range fieldSets {
		outcome := p.process(ctx, tenantID, fs, st, &result.Stats)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	metrics.RecordStats(result.Stats)

	log.WithFields(map[string]any{
		"created":   result.Count(ActionCreated),
		"merged":    result.Count(ActionMerged),
		"unchanged": result.Count(ActionUnchanged),
		"skipped":   result.Count(ActionSkipped),
		"invalid":   result.Count(ActionInvalid),
		"failed":    result.Count(ActionFailed),
	}).Info("Processed field-set batch")

	return result, nil
}

// ProcessOne processes a single field-set.
func (p *Processor) ProcessOne(ctx context.Context, tenantID string, fs *models.FieldSet) (*Outcome, *models.MatchStats, error) {
	result, err := p.ProcessBatch(ctx, tenantID, []*models.FieldSet{fs})
	if err != nil {
		return nil, nil, err
	}
	return &result.Outcomes[0], &result.Stats, nil
}

func (p *Processor) process(ctx context.Context, tenantID string, fs *models.FieldSet, st *tenantState, stats *models.MatchStats) Outcome {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.process")
	defer span.End()

	if fs == nil {
		metrics.IngestFailuresTotal.WithLabelValues(ActionInvalid).Inc()
		return Outcome{Action: ActionInvalid, Error: "field-set is nil"}
	}

	out := Outcome{EmailID: fs.EmailID}
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"email_id":  fs.EmailID,
	})

	if err := p.prepare(tenantID, fs); err != nil {
		log.WithError(err).Warn("Rejected invalid field-set")
		metrics.IngestFailuresTotal.WithLabelValues(ActionInvalid).Inc()
		out.Action = ActionInvalid
		out.Error = err.Error()
		return out
	}
	if len(fs.InvalidFields) > 0 {
		log.WithField("fields", fs.InvalidFields).Warn("Dropped unparseable dates")
	}

	if key, ok := st.emails[fs.EmailID]; ok {
		o := st.orders[key]
		metrics.OrdersTotal.WithLabelValues(ActionSkipped).Inc()
		out.Action = ActionSkipped
		out.OrderKey = key
		if o != nil {
			out.OrderID = o.ID
		}
		return out
	}

	res := p.resolver.Resolve(fs, st.orders, st.idx, stats)
	out.Match = res.Kind
	out.Similarity = res.Similarity

	now := p.clock()
	if existing, ok := st.orders[res.OrderKey]; res.Matched() && ok {
		return p.merge(ctx, log, fs, existing, res, st, now, out)
	}
	return p.create(ctx, log, fs, st, now, out)
}

// prepare validates fs and assigns its prospective id and eager key.
func (p *Processor) prepare(tenantID string, fs *models.FieldSet) error {
	if fs.TenantID == "" {
		fs.TenantID = tenantID
	}
	if fs.TenantID != tenantID {
		return fmt.Errorf("field-set tenant %q does not match batch tenant %q", fs.TenantID, tenantID)
	}
	if err := p.validate.Struct(fs); err != nil {
		return err
	}
	if fs.ID == "" {
		fs.ID = p.newID()
	}
	fs.OrderKey = orderkey.Generate(orderkey.FromFieldSet(fs))
	return nil
}

func (p *Processor) create(ctx context.Context, log ectologger.Logger, fs *models.FieldSet, st *tenantState, now time.Time, out Outcome) Outcome {
	key := fs.OrderKey
	if _, taken := st.orders[key]; taken {
		// a repeat purchase outside the window derives the same item key
		key = fs.ID
	}

	result := p.engine.NewOrder(fs, fs.ID, key, now)
	err := p.store.InTx(ctx, func(ctx context.Context) error {
		return p.store.Create(ctx, result.Order)
	})
	if err != nil {
		log.WithError(err).Error("Failed to create order")
		metrics.IngestFailuresTotal.WithLabelValues(ActionFailed).Inc()
		out.Action = ActionFailed
		out.Error = err.Error()
		return out
	}

	st.put(result.Order)
	st.idx.Add(result.Order)
	metrics.OrdersTotal.WithLabelValues(ActionCreated).Inc()

	out.Action = ActionCreated
	out.OrderID = result.Order.ID
	out.OrderKey = result.Order.OrderKey

	if p.emitter != nil {
		if err := p.emitter.EmitOrderCreated(ctx, result.Order, fs.EmailID); err != nil {
			log.WithError(err).Warn("Failed to emit order created event")
		}
	}
	p.project(ctx, log, result.Order, fs.EmailID)

	return out
}

func (p *Processor) merge(ctx context.Context, log ectologger.Logger, fs *models.FieldSet, existing *models.Order, res models.Resolution, st *tenantState, now time.Time, out Outcome) Outcome {
	result := p.engine.Merge(existing, fs, now)
	out.OrderID = existing.ID
	out.OrderKey = existing.OrderKey

	if !result.Changed() {
		metrics.OrdersTotal.WithLabelValues(ActionUnchanged).Inc()
		out.Action = ActionUnchanged
		return out
	}

	err := p.store.InTx(ctx, func(ctx context.Context) error {
		return p.store.ApplyChanges(ctx, existing.TenantID, existing.ID, result.Changes)
	})
	if err != nil {
		log.WithError(err).Error("Failed to apply merge")
		metrics.IngestFailuresTotal.WithLabelValues(ActionFailed).Inc()
		out.Action = ActionFailed
		out.Error = err.Error()
		return out
	}

	result.Order.Version = existing.Version + 1
	st.put(result.Order)
	st.idx.Add(result.Order)
	metrics.OrdersTotal.WithLabelValues(ActionMerged).Inc()

	out.Action = ActionMerged
	out.Changed = result.ChangedColumns()

	if p.emitter != nil {
		if err := p.emitter.EmitOrderMerged(ctx, result, fs.EmailID, res); err != nil {
			log.WithError(err).Warn("Failed to emit order merged event")
		}
	}
	p.project(ctx, log, result.Order, fs.EmailID)

	return out
}

// project is best effort; the order is already committed.
func (p *Processor) project(ctx context.Context, log ectologger.Logger, o *models.Order, emailID string) {
	if p.projector == nil {
		return
	}
	if err := p.projector.ProjectOrder(ctx, o, emailID); err != nil {
		log.WithError(err).Warn("Failed to project order into graph")
	}
}
