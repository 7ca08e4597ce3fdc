package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
)

type appliedChange struct {
	tenantID string
	id       string
	changes  map[string]any
}

type fakeStore struct {
	existing  []*models.Order
	created   []*models.Order
	applied   []appliedChange
	listErr   error
	createErr error
	applyErr  error
	txCount   int
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txCount++
	return fn(ctx)
}

func (s *fakeStore) ListByTenant(_ context.Context, _ string) ([]*models.Order, error) {
	return s.existing, s.listErr
}

func (s *fakeStore) Create(_ context.Context, o *models.Order) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, o)
	return nil
}

func (s *fakeStore) ApplyChanges(_ context.Context, tenantID, id string, changes map[string]any) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, appliedChange{tenantID: tenantID, id: id, changes: changes})
	return nil
}

type fakeLocker struct {
	locked   []string
	released int
	err      error
}

func (l *fakeLocker) LockTenant(_ context.Context, tenantID string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, tenantID)
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

type fakeEmitter struct {
	created []*models.Order
	merged  []*models.MergeResult
}

func (e *fakeEmitter) EmitOrderCreated(_ context.Context, o *models.Order, _ string) error {
	e.created = append(e.created, o)
	return nil
}

func (e *fakeEmitter) EmitOrderMerged(_ context.Context, result *models.MergeResult, _ string, _ models.Resolution) error {
	e.merged = append(e.merged, result)
	return nil
}

type fakeProjector struct {
	calls int
	err   error
}

func (p *fakeProjector) ProjectOrder(_ context.Context, _ *models.Order, _ string) error {
	p.calls++
	return p.err
}

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func nopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func newTestProcessor(store *fakeStore, opts ...Option) *Processor {
	n := 0
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("order-%d", n)
		}),
	}, opts...)
	return NewProcessor(nopLogger(), store, matching.NewResolver(matching.DefaultConfig()), merging.NewEngine(30), opts...)
}

func date(y, m, d int) *civil.Date {
	return &civil.Date{Year: y, Month: time.Month(m), Day: d}
}

func confirmation(emailID string) *models.FieldSet {
	return &models.FieldSet{
		EmailID:        emailID,
		ReceivedAt:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		EmailType:      models.EmailTypeOrderConfirmation,
		OrderNumber:    models.StringPtr("112-1234567-1234567"),
		MerchantDomain: models.StringPtr("shop.example.com"),
		ItemSummary:    models.StringPtr("Wireless Headphones Black"),
	}
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should create an order for an unmatched field-set", func(t *testing.T) {
		store := &fakeStore{}
		p := newTestProcessor(store)

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1")})
		require.NoError(t, err)
		require.Len(t, result.Outcomes, 1)

		out := result.Outcomes[0]
		assert.Equal(t, ActionCreated, out.Action)
		assert.Equal(t, "order-1", out.OrderID)
		assert.Equal(t, "example.com::112-1234567-1234567", out.OrderKey)
		assert.Equal(t, models.MatchKindNone, out.Match)
		assert.Equal(t, 1, result.Stats.NoMatch)

		require.Len(t, store.created, 1)
		created := store.created[0]
		assert.Equal(t, "tenant-1", created.TenantID)
		assert.Equal(t, []string{"e1"}, created.SourceEmailIDs)
		assert.Equal(t, models.DeadlineUnknown, created.DeadlineConfidence)
		assert.Equal(t, 1, created.Version)
	})

	t.Run("should follow a confirmation with its delivery notice", func(t *testing.T) {
		store := &fakeStore{}
		emitter := &fakeEmitter{}
		p := newTestProcessor(store, WithEmitter(emitter))

		delivery := &models.FieldSet{
			EmailID:        "e2",
			ReceivedAt:     time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
			EmailType:      models.EmailTypeDelivery,
			OrderNumber:    models.StringPtr("112-1234567-1234567"),
			MerchantDomain: models.StringPtr("shop.example.com"),
			DeliveryDate:   date(2024, 3, 5),
		}

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1"), delivery})
		require.NoError(t, err)
		require.Len(t, result.Outcomes, 2)

		assert.Equal(t, ActionCreated, result.Outcomes[0].Action)
		assert.Equal(t, ActionMerged, result.Outcomes[1].Action)
		assert.Equal(t, models.MatchKindOrderNumber, result.Outcomes[1].Match)
		assert.Equal(t, "order-1", result.Outcomes[1].OrderID)
		assert.Contains(t, result.Outcomes[1].Changed, models.ColumnDeliveryDate)
		assert.Equal(t, 1, result.Stats.IdentityMatch)

		require.Len(t, emitter.created, 1)
		assert.Equal(t, models.DeadlineUnknown, emitter.created[0].DeadlineConfidence)

		require.Len(t, emitter.merged, 1)
		merged := emitter.merged[0].Order
		assert.Equal(t, models.DeadlineEstimated, merged.DeadlineConfidence)
		assert.Equal(t, date(2024, 4, 4), merged.ReturnByDate)
		assert.Equal(t, []string{"e1", "e2"}, merged.SourceEmailIDs)
		assert.Equal(t, 2, merged.Version)

		view := lifecycle.View(merged, civil.DateOf(testNow))
		assert.True(t, view.ShouldDisplay)
		assert.True(t, view.ShouldAlert)

		require.Len(t, store.applied, 1)
		assert.Equal(t, "order-1", store.applied[0].id)
		assert.Contains(t, store.applied[0].changes, models.ColumnReturnByDate)
	})

	t.Run("should skip an email that already contributed", func(t *testing.T) {
		store := &fakeStore{}
		p := newTestProcessor(store)

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1"), confirmation("e1")})
		require.NoError(t, err)

		assert.Equal(t, ActionCreated, result.Outcomes[0].Action)
		assert.Equal(t, ActionSkipped, result.Outcomes[1].Action)
		assert.Equal(t, "order-1", result.Outcomes[1].OrderID)
		assert.Len(t, store.created, 1)
		assert.Empty(t, store.applied)
	})

	t.Run("should skip emails already stored on loaded orders", func(t *testing.T) {
		store := &fakeStore{existing: []*models.Order{{
			ID:                 "existing-1",
			TenantID:           "tenant-1",
			OrderKey:           "example.com::112-1234567-1234567",
			OrderNumber:        models.StringPtr("112-1234567-1234567"),
			NormalizedMerchant: "example.com",
			SourceEmailIDs:     []string{"e1"},
		}}}
		p := newTestProcessor(store)

		out, stats, err := p.ProcessOne(ctx, "tenant-1", confirmation("e1"))
		require.NoError(t, err)
		assert.Equal(t, ActionSkipped, out.Action)
		assert.Equal(t, "existing-1", out.OrderID)
		assert.Equal(t, models.MatchStats{}, *stats)
	})

	t.Run("should persist only the changed columns", func(t *testing.T) {
		store := &fakeStore{existing: []*models.Order{{
			ID:                 "existing-1",
			TenantID:           "tenant-1",
			OrderKey:           "example.com::112-1234567-1234567",
			OrderNumber:        models.StringPtr("112-1234567-1234567"),
			NormalizedMerchant: "example.com",
			SourceEmailIDs:     []string{"e1"},
			DeadlineConfidence: models.DeadlineUnknown,
			Version:            3,
		}}}
		p := newTestProcessor(store)

		// resolved by order number, carrying nothing new but its email id
		out, _, err := p.ProcessOne(ctx, "tenant-1", &models.FieldSet{
			EmailID:     "e9",
			OrderNumber: models.StringPtr("112-1234567-1234567"),
		})
		require.NoError(t, err)
		assert.Equal(t, ActionMerged, out.Action)
		assert.Equal(t, []string{models.ColumnSourceEmailIDs}, out.Changed)
		require.Len(t, store.applied, 1)
	})

	t.Run("should reject invalid field-sets without touching the store", func(t *testing.T) {
		store := &fakeStore{}
		p := newTestProcessor(store)

		bad := confirmation("")
		otherTenant := confirmation("e2")
		otherTenant.TenantID = "tenant-2"

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{bad, otherTenant, nil})
		require.NoError(t, err)
		for _, out := range result.Outcomes {
			assert.Equal(t, ActionInvalid, out.Action)
			assert.NotEmpty(t, out.Error)
		}
		assert.Zero(t, store.txCount)
	})

	t.Run("should not index an order whose write failed", func(t *testing.T) {
		store := &fakeStore{createErr: errors.New("connection reset")}
		p := newTestProcessor(store)

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1"), confirmation("e2")})
		require.NoError(t, err)

		assert.Equal(t, ActionFailed, result.Outcomes[0].Action)
		assert.Equal(t, "connection reset", result.Outcomes[0].Error)
		// the second email finds nothing to merge into
		assert.Equal(t, ActionFailed, result.Outcomes[1].Action)
		assert.Equal(t, models.MatchKindNone, result.Outcomes[1].Match)
		assert.Equal(t, 2, result.Stats.NoMatch)
	})

	t.Run("should report failed merges", func(t *testing.T) {
		store := &fakeStore{applyErr: errors.New("deadlock")}
		p := newTestProcessor(store)

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1"), confirmation("e2")})
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, result.Outcomes[0].Action)
		assert.Equal(t, ActionFailed, result.Outcomes[1].Action)
		assert.Equal(t, "order-1", result.Outcomes[1].OrderID)
	})

	t.Run("should key a repeat purchase by its id", func(t *testing.T) {
		store := &fakeStore{}
		p := newTestProcessor(store)

		first := &models.FieldSet{
			EmailID:        "e1",
			ReceivedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			MerchantDomain: models.StringPtr("example.com"),
			ItemSummary:    models.StringPtr("Organic Coffee Beans"),
		}
		repeat := &models.FieldSet{
			EmailID:        "e2",
			ReceivedAt:     time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
			MerchantDomain: models.StringPtr("example.com"),
			ItemSummary:    models.StringPtr("Organic Coffee Beans"),
		}

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{first, repeat})
		require.NoError(t, err)

		assert.Equal(t, ActionCreated, result.Outcomes[0].Action)
		assert.Equal(t, ActionCreated, result.Outcomes[1].Action)
		assert.Contains(t, result.Outcomes[0].OrderKey, "example.com::item::")
		assert.Equal(t, "order-2", result.Outcomes[1].OrderKey)
		assert.Equal(t, 1, result.Stats.WindowReject)
	})

	t.Run("should fuzzy match within the window", func(t *testing.T) {
		store := &fakeStore{}
		p := newTestProcessor(store)

		first := &models.FieldSet{
			EmailID:        "e1",
			ReceivedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			MerchantDomain: models.StringPtr("example.com"),
			ItemSummary:    models.StringPtr("Organic Coffee Beans"),
		}
		shipped := &models.FieldSet{
			EmailID:        "e2",
			ReceivedAt:     time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			MerchantDomain: models.StringPtr("example.com"),
			ItemSummary:    models.StringPtr("Organic Coffee Beans 2lb"),
			ShipDate:       date(2024, 1, 3),
		}

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{first, shipped})
		require.NoError(t, err)
		assert.Equal(t, ActionMerged, result.Outcomes[1].Action)
		assert.Equal(t, models.MatchKindFuzzy, result.Outcomes[1].Match)
		assert.Equal(t, 1, result.Stats.FuzzyMatch)
	})

	t.Run("should hold the tenant lock for the batch", func(t *testing.T) {
		locker := &fakeLocker{}
		p := newTestProcessor(&fakeStore{}, WithLocker(locker))

		_, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1")})
		require.NoError(t, err)
		assert.Equal(t, []string{"tenant-1"}, locker.locked)
		assert.Equal(t, 1, locker.released)
	})

	t.Run("should fail the batch when the lock is unavailable", func(t *testing.T) {
		store := &fakeStore{}
		p := newTestProcessor(store, WithLocker(&fakeLocker{err: errors.New("lock not acquired")}))

		_, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1")})
		assert.Error(t, err)
		assert.Empty(t, store.created)
	})

	t.Run("should fail the batch when orders cannot be loaded", func(t *testing.T) {
		p := newTestProcessor(&fakeStore{listErr: errors.New("timeout")})

		_, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1")})
		assert.ErrorContains(t, err, "timeout")
	})

	t.Run("should require a tenant", func(t *testing.T) {
		p := newTestProcessor(&fakeStore{})

		_, err := p.ProcessBatch(ctx, "", nil)
		assert.Error(t, err)
	})

	t.Run("should not fail ingestion when the projection fails", func(t *testing.T) {
		projector := &fakeProjector{err: errors.New("graph down")}
		p := newTestProcessor(&fakeStore{}, WithProjector(projector))

		result, err := p.ProcessBatch(ctx, "tenant-1", []*models.FieldSet{confirmation("e1")})
		require.NoError(t, err)
		assert.Equal(t, ActionCreated, result.Outcomes[0].Action)
		assert.Equal(t, 1, projector.calls)
	})
}
