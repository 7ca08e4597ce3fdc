package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/routes/deadletters"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/ingest"
	"github.com/Ramsey-B/fern/pkg/routes/orders"
)

var today = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

type fakeOrderStore struct {
	orders   map[string]*models.Order
	tenantID string
}

func (s *fakeOrderStore) ListByTenant(_ context.Context, tenantID string) ([]*models.Order, error) {
	s.tenantID = tenantID
	var out []*models.Order
	for _, id := range []string{"o1", "o2", "o3", "o4"} {
		if o, ok := s.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) Get(_ context.Context, _ string, id string) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "order "+id+" not found")
	}
	return o.Clone(), nil
}

func (s *fakeOrderStore) UpdateStatus(ctx context.Context, tenantID, id string, status models.OrderStatus) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "order "+id+" not found")
	}
	o.OrderStatus = status
	o.Version++
	return o.Clone(), nil
}

type fakeStatusEmitter struct {
	previous []models.OrderStatus
}

func (e *fakeStatusEmitter) EmitOrderStatusChanged(_ context.Context, _ *models.Order, previous models.OrderStatus) error {
	e.previous = append(e.previous, previous)
	return nil
}

type fakeBatchProcessor struct {
	got []*models.FieldSet
	err error
}

func (p *fakeBatchProcessor) ProcessBatch(_ context.Context, tenantID string, fieldSets []*models.FieldSet) (*processor.BatchResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.got = fieldSets
	result := &processor.BatchResult{TenantID: tenantID}
	for _, fs := range fieldSets {
		result.Outcomes = append(result.Outcomes, processor.Outcome{EmailID: fs.EmailID, Action: processor.ActionCreated})
	}
	return result, nil
}

type fakeDeadLetters struct {
	count int64
}

func (d *fakeDeadLetters) ListByTenant(_ context.Context, tenantID string, count int64) ([]redis.DLQEntry, error) {
	d.count = count
	return []redis.DLQEntry{{ID: "d1", TenantID: tenantID, Reason: "invalid"}}, nil
}

func day(y int, m time.Month, d int) *civil.Date {
	return &civil.Date{Year: y, Month: m, Day: d}
}

type testServer struct {
	e       *echo.Echo
	store   *fakeOrderStore
	emitter *fakeStatusEmitter
	proc    *fakeBatchProcessor
	dlq     *fakeDeadLetters
	checker *health.Checker
}

func newTestServer() *testServer {
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	ts := &testServer{
		store: &fakeOrderStore{orders: map[string]*models.Order{
			// due in 25 days
			"o1": {ID: "o1", TenantID: "t1", OrderStatus: models.OrderStatusActive, DeadlineConfidence: models.DeadlineEstimated, ReturnByDate: day(2024, time.April, 4)},
			// due in 2 days
			"o2": {ID: "o2", TenantID: "t1", OrderStatus: models.OrderStatusActive, DeadlineConfidence: models.DeadlineExact, ReturnByDate: day(2024, time.March, 12)},
			// no deadline
			"o3": {ID: "o3", TenantID: "t1", OrderStatus: models.OrderStatusActive, DeadlineConfidence: models.DeadlineUnknown},
			// returned already
			"o4": {ID: "o4", TenantID: "t1", OrderStatus: models.OrderStatusReturned, DeadlineConfidence: models.DeadlineExact, ReturnByDate: day(2024, time.March, 20)},
		}},
		emitter: &fakeStatusEmitter{},
		proc:    &fakeBatchProcessor{},
		dlq:     &fakeDeadLetters{},
		checker: health.NewChecker("test"),
	}
	clock := func() time.Time { return today }

	ts.e = New(Options{AppName: "fern-test"}, logger, Handlers{
		Orders:      orders.NewHandler(ts.store, ts.emitter, logger, clock),
		Ingest:      ingest.NewHandler(ts.proc, logger),
		DeadLetters: deadletters.NewHandler(ts.dlq),
		Health:      ts.checker,
	})
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(middleware.HeaderTenantID, "t1")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

type orderViewBody struct {
	ID          string               `json:"id"`
	OrderStatus string               `json:"order_status"`
	Lifecycle   models.LifecycleView `json:"lifecycle"`
}

func TestOrders(t *testing.T) {
	t.Run("should list every order with its lifecycle", func(t *testing.T) {
		ts := newTestServer()
		rec := ts.do(http.MethodGet, "/api/v1/orders", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var views []orderViewBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		require.Len(t, views, 4)
		assert.Equal(t, "t1", ts.store.tenantID)
		assert.Equal(t, "o1", views[0].ID)
		require.NotNil(t, views[0].Lifecycle.DaysRemaining)
		assert.Equal(t, 25, *views[0].Lifecycle.DaysRemaining)
		assert.Equal(t, models.UrgencyNormal, views[0].Lifecycle.Urgency)
	})

	t.Run("should keep displayable orders soonest first", func(t *testing.T) {
		ts := newTestServer()
		rec := ts.do(http.MethodGet, "/api/v1/orders?display=true", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var views []orderViewBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		require.Len(t, views, 2)
		assert.Equal(t, "o2", views[0].ID)
		assert.Equal(t, models.UrgencyUrgent, views[0].Lifecycle.Urgency)
		assert.Equal(t, "o1", views[1].ID)
	})

	t.Run("should reject a bad display flag", func(t *testing.T) {
		rec := newTestServer().do(http.MethodGet, "/api/v1/orders?display=maybe", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should get one order", func(t *testing.T) {
		rec := newTestServer().do(http.MethodGet, "/api/v1/orders/o2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var view orderViewBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, "o2", view.ID)
		assert.True(t, view.Lifecycle.ShouldDisplay)
		assert.True(t, view.Lifecycle.ShouldAlert)
	})

	t.Run("should return 404 for a missing order", func(t *testing.T) {
		rec := newTestServer().do(http.MethodGet, "/api/v1/orders/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should update the status and emit the change", func(t *testing.T) {
		ts := newTestServer()
		rec := ts.do(http.MethodPut, "/api/v1/orders/o1/status", `{"status":"returned"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var view orderViewBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, "returned", view.OrderStatus)
		assert.False(t, view.Lifecycle.ShouldDisplay)
		assert.Equal(t, []models.OrderStatus{models.OrderStatusActive}, ts.emitter.previous)
	})

	t.Run("should not emit when the status is unchanged", func(t *testing.T) {
		ts := newTestServer()
		rec := ts.do(http.MethodPut, "/api/v1/orders/o4/status", `{"status":"returned"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, ts.emitter.previous)
	})

	t.Run("should reject unknown statuses", func(t *testing.T) {
		rec := newTestServer().do(http.MethodPut, "/api/v1/orders/o1/status", `{"status":"lost"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should require a tenant", func(t *testing.T) {
		ts := newTestServer()
		rec := httptest.NewRecorder()
		ts.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIngest(t *testing.T) {
	t.Run("should process the batch in order", func(t *testing.T) {
		ts := newTestServer()
		body := `{"field_sets":[{"email_id":"e1","delivery_date":"2024-03-05"},{"email_id":"e2"}]}`
		rec := ts.do(http.MethodPost, "/api/v1/ingest", body)
		require.Equal(t, http.StatusOK, rec.Code)

		require.Len(t, ts.proc.got, 2)
		assert.Equal(t, "e1", ts.proc.got[0].EmailID)
		assert.Equal(t, day(2024, time.March, 5), ts.proc.got[0].DeliveryDate)

		var result processor.BatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "t1", result.TenantID)
		assert.Len(t, result.Outcomes, 2)
	})

	t.Run("should reject an empty batch", func(t *testing.T) {
		rec := newTestServer().do(http.MethodPost, "/api/v1/ingest", `{"field_sets":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject malformed bodies", func(t *testing.T) {
		rec := newTestServer().do(http.MethodPost, "/api/v1/ingest", `{"field_sets":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should return 503 when the batch cannot run", func(t *testing.T) {
		ts := newTestServer()
		ts.proc.err = errors.New("lock not acquired")
		rec := ts.do(http.MethodPost, "/api/v1/ingest", `{"field_sets":[{"email_id":"e1"}]}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestDeadLetters(t *testing.T) {
	t.Run("should list the tenant's dead letters", func(t *testing.T) {
		ts := newTestServer()
		rec := ts.do(http.MethodGet, "/api/v1/dead-letters?limit=10", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(10), ts.dlq.count)

		var entries []redis.DLQEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "t1", entries[0].TenantID)
	})

	t.Run("should reject a bad limit", func(t *testing.T) {
		rec := newTestServer().do(http.MethodGet, "/api/v1/dead-letters?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	t.Run("should be live without a tenant", func(t *testing.T) {
		ts := newTestServer()
		rec := httptest.NewRecorder()
		ts.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("should not be ready before startup finished", func(t *testing.T) {
		rec := newTestServer().do(http.MethodGet, "/api/v1/health/ready", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("should report failing dependencies", func(t *testing.T) {
		ts := newTestServer()
		ts.checker.SetReady(true)
		ts.checker.AddCheck("database", health.PingFunc(func(context.Context) error { return nil }))
		ts.checker.AddCheck("redis", health.PingFunc(func(context.Context) error { return errors.New("refused") }))

		rec := ts.do(http.MethodGet, "/api/v1/health/ready", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var status health.HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "healthy", status.Checks["database"].Status)
		assert.Equal(t, "refused", status.Checks["redis"].Message)
	})

	t.Run("should serve metrics", func(t *testing.T) {
		ts := newTestServer()
		rec := httptest.NewRecorder()
		ts.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
