package merging

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Ramsey-B/fern/pkg/lifecycle"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func datePtr(y int, m time.Month, d int) *civil.Date {
	return &civil.Date{Year: y, Month: m, Day: d}
}

func existingOrder() *models.Order {
	return &models.Order{
		ID:                 "order-1",
		TenantID:           "tenant-1",
		OrderKey:           "nike.com::A100",
		OrderNumber:        models.StringPtr("A100"),
		MerchantDomain:     models.StringPtr("nike.com"),
		NormalizedMerchant: "nike.com",
		ItemSummary:        models.StringPtr("Shoes"),
		EvidenceSnippet:    models.StringPtr("Returns accepted within 30 days"),
		SourceEmailIDs:     []string{"e1"},
		OrderStatus:        models.OrderStatusActive,
		DeadlineConfidence: models.DeadlineUnknown,
		MatchTime:          now.AddDate(0, 0, -5),
		CreatedAt:          now.AddDate(0, 0, -5),
		UpdatedAt:          now.AddDate(0, 0, -5),
		Version:            1,
	}
}

func TestEngine_NewOrder(t *testing.T) {
	e := NewEngine(30)

	t.Run("should create an order without deadline", func(t *testing.T) {
		in := &models.FieldSet{
			EmailID:        "e1",
			TenantID:       "tenant-1",
			MerchantDomain: models.StringPtr("amazon.com"),
			ItemSummary:    models.StringPtr("Order 112-3456789-0000000: kettle"),
			ReceivedAt:     now,
		}

		res := e.NewOrder(in, "id-1", "amazon.com::112-3456789-0000000", now)
		require.True(t, res.IsNew)
		o := res.Order
		assert.Equal(t, "id-1", o.ID)
		assert.Equal(t, "tenant-1", o.TenantID)
		assert.Equal(t, "112-3456789-0000000", models.Deref(o.OrderNumber))
		assert.Equal(t, "amazon.com", o.NormalizedMerchant)
		assert.Equal(t, []string{"e1"}, o.SourceEmailIDs)
		assert.Equal(t, models.OrderStatusActive, o.OrderStatus)
		assert.Equal(t, models.DeadlineUnknown, o.DeadlineConfidence)
		assert.Nil(t, o.ReturnByDate)
		assert.Equal(t, now, o.MatchTime)
		assert.Equal(t, 1, o.Version)
	})

	t.Run("should compute deadline from anchor", func(t *testing.T) {
		window := 14
		in := &models.FieldSet{
			EmailID:          "e1",
			PurchaseDate:     datePtr(2024, 5, 20),
			ReturnWindowDays: &window,
		}
		o := e.NewOrder(in, "id-1", "id-1", now).Order
		assert.Equal(t, datePtr(2024, 6, 3), o.ReturnByDate)
		assert.Equal(t, models.DeadlineEstimated, o.DeadlineConfidence)
		assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 20}.In(time.UTC), o.MatchTime)
	})

	t.Run("should not share pointers with the field-set", func(t *testing.T) {
		in := &models.FieldSet{EmailID: "e1", ItemSummary: models.StringPtr("kettle")}
		o := e.NewOrder(in, "id-1", "id-1", now).Order
		*in.ItemSummary = "changed"
		assert.Equal(t, "kettle", models.Deref(o.ItemSummary))
	})
}

func TestEngine_Merge(t *testing.T) {
	e := NewEngine(30)

	t.Run("should keep the longer item summary", func(t *testing.T) {
		in := &models.FieldSet{EmailID: "e2", ItemSummary: models.StringPtr("Nike Air Max 270 Running Shoes")}
		res := e.Merge(existingOrder(), in, now)
		assert.Equal(t, "Nike Air Max 270 Running Shoes", models.Deref(res.Order.ItemSummary))
		assert.Contains(t, res.Changes, models.ColumnItemSummary)

		in = &models.FieldSet{EmailID: "e2", ItemSummary: models.StringPtr("Nike")}
		res = e.Merge(existingOrder(), in, now)
		assert.Equal(t, "Shoes", models.Deref(res.Order.ItemSummary))
		assert.NotContains(t, res.Changes, models.ColumnItemSummary)
	})

	t.Run("should never replace an existing delivery date", func(t *testing.T) {
		o := existingOrder()
		o.DeliveryDate = datePtr(2024, 5, 28)
		o.ReturnByDate = datePtr(2024, 6, 27)
		o.DeadlineConfidence = models.DeadlineEstimated

		res := e.Merge(o, &models.FieldSet{EmailID: "e2", DeliveryDate: datePtr(2024, 5, 30)}, now)
		assert.Equal(t, datePtr(2024, 5, 28), res.Order.DeliveryDate)
		assert.Equal(t, datePtr(2024, 6, 27), res.Order.ReturnByDate)
		assert.NotContains(t, res.Changes, models.ColumnDeliveryDate)
		assert.NotContains(t, res.Changes, models.ColumnReturnByDate)
	})

	t.Run("should recompute deadline when delivery arrives", func(t *testing.T) {
		o := existingOrder()
		o.PurchaseDate = datePtr(2024, 5, 1)
		o.ReturnByDate = datePtr(2024, 5, 31)
		o.DeadlineConfidence = models.DeadlineEstimated

		res := e.Merge(o, &models.FieldSet{EmailID: "e2", DeliveryDate: datePtr(2024, 5, 10)}, now)
		assert.Equal(t, datePtr(2024, 6, 9), res.Order.ReturnByDate)
		assert.Equal(t, models.DeadlineEstimated, res.Order.DeadlineConfidence)
		assert.Contains(t, res.Changes, models.ColumnReturnByDate)
		assert.NotContains(t, res.Changes, models.ColumnDeadlineConfidence)
	})

	t.Run("should let a later explicit date replace an estimate", func(t *testing.T) {
		o := existingOrder()
		o.PurchaseDate = datePtr(2024, 3, 1)
		o.ReturnByDate = datePtr(2024, 3, 31)
		o.DeadlineConfidence = models.DeadlineEstimated

		res := e.Merge(o, &models.FieldSet{EmailID: "e2", ExplicitReturnByDate: datePtr(2024, 3, 15)}, now)
		assert.Equal(t, datePtr(2024, 3, 15), res.Order.ExplicitReturnByDate)
		assert.Equal(t, datePtr(2024, 3, 15), res.Order.ReturnByDate)
		assert.Equal(t, models.DeadlineExact, res.Order.DeadlineConfidence)
		assert.Equal(t, datePtr(2024, 3, 15), res.Changes[models.ColumnReturnByDate])
		assert.Equal(t, models.DeadlineExact, res.Changes[models.ColumnDeadlineConfidence])
		assert.True(t, lifecycle.ShouldAlert(res.Order))
	})

	t.Run("should keep an explicit deadline when the same date arrives again", func(t *testing.T) {
		o := existingOrder()
		o.ExplicitReturnByDate = datePtr(2024, 3, 15)
		o.ReturnByDate = datePtr(2024, 3, 15)
		o.DeadlineConfidence = models.DeadlineExact

		res := e.Merge(o, &models.FieldSet{EmailID: "e2", ExplicitReturnByDate: datePtr(2024, 4, 1)}, now)
		assert.Equal(t, datePtr(2024, 3, 15), res.Order.ReturnByDate)
		assert.NotContains(t, res.Changes, models.ColumnReturnByDate)
		assert.NotContains(t, res.Changes, models.ColumnExplicitReturnByDate)
	})

	t.Run("should take an explicit date when no deadline exists", func(t *testing.T) {
		res := e.Merge(existingOrder(), &models.FieldSet{EmailID: "e2", ExplicitReturnByDate: datePtr(2024, 7, 1)}, now)
		assert.Equal(t, datePtr(2024, 7, 1), res.Order.ReturnByDate)
		assert.Equal(t, models.DeadlineExact, res.Order.DeadlineConfidence)
		assert.Equal(t, models.DeadlineExact, res.Changes[models.ColumnDeadlineConfidence])
	})

	t.Run("should only take policy evidence", func(t *testing.T) {
		res := e.Merge(existingOrder(), &models.FieldSet{EmailID: "e2", EvidenceSnippet: models.StringPtr("Your package is on its way")}, now)
		assert.Equal(t, "Returns accepted within 30 days", models.Deref(res.Order.EvidenceSnippet))

		res = e.Merge(existingOrder(), &models.FieldSet{EmailID: "e2", EvidenceSnippet: models.StringPtr("Full REFUND available")}, now)
		assert.Equal(t, "Full REFUND available", models.Deref(res.Order.EvidenceSnippet))
	})

	t.Run("should fill links and amount only when empty", func(t *testing.T) {
		o := existingOrder()
		o.ReturnPortalLink = models.StringPtr("https://nike.com/returns")

		in := &models.FieldSet{
			EmailID:              "e2",
			ReturnPortalLink:     models.StringPtr("https://other.example/returns"),
			ShippingTrackingLink: models.StringPtr("https://track.example/1"),
			Amount:               decimal.NewNullDecimal(decimal.RequireFromString("129.99")),
			Currency:             models.StringPtr("USD"),
		}
		res := e.Merge(o, in, now)
		assert.Equal(t, "https://nike.com/returns", models.Deref(res.Order.ReturnPortalLink))
		assert.Equal(t, "https://track.example/1", models.Deref(res.Order.ShippingTrackingLink))
		assert.True(t, res.Order.Amount.Valid)
		assert.Equal(t, "129.99", res.Order.Amount.Decimal.String())
		assert.Equal(t, "USD", models.Deref(res.Order.Currency))
	})

	t.Run("should never replace a known order number", func(t *testing.T) {
		res := e.Merge(existingOrder(), &models.FieldSet{EmailID: "e2", OrderNumber: models.StringPtr("B200")}, now)
		assert.Equal(t, "A100", models.Deref(res.Order.OrderNumber))
	})

	t.Run("should fill tracking number from item summary", func(t *testing.T) {
		res := e.Merge(existingOrder(), &models.FieldSet{EmailID: "e2", ItemSummary: models.StringPtr("UPS 1Z999AA10123456784")}, now)
		assert.Equal(t, "1Z999AA10123456784", models.Deref(res.Order.TrackingNumber))
	})

	t.Run("should not mutate the existing order", func(t *testing.T) {
		o := existingOrder()
		e.Merge(o, &models.FieldSet{EmailID: "e2", ItemSummary: models.StringPtr("Nike Air Max 270 Running Shoes")}, now)
		assert.Equal(t, "Shoes", models.Deref(o.ItemSummary))
		assert.Equal(t, []string{"e1"}, o.SourceEmailIDs)
	})

	t.Run("should always set updated_at", func(t *testing.T) {
		res := e.Merge(existingOrder(), &models.FieldSet{EmailID: "e1"}, now)
		assert.Equal(t, now, res.Order.UpdatedAt)
		assert.Equal(t, now, res.Changes[models.ColumnUpdatedAt])
		assert.False(t, res.Changed())
		assert.False(t, res.IsNew)
	})
}

func TestEngine_MergeProvenance(t *testing.T) {
	e := NewEngine(30)
	o := existingOrder()

	for _, id := range []string{"e2", "e3", "e2"} {
		o = e.Merge(o, &models.FieldSet{EmailID: id}, now).Order
	}
	assert.Equal(t, []string{"e1", "e2", "e3"}, o.SourceEmailIDs)
}

func TestEngine_MergeIdempotent(t *testing.T) {
	e := NewEngine(30)
	in := &models.FieldSet{
		EmailID:         "e2",
		ItemSummary:     models.StringPtr("Nike Air Max 270 Running Shoes"),
		DeliveryDate:    datePtr(2024, 5, 30),
		EvidenceSnippet: models.StringPtr("30 day return policy"),
	}

	first := e.Merge(existingOrder(), in, now)
	require.True(t, first.Changed())

	second := e.Merge(first.Order, in, now.Add(time.Hour))
	assert.False(t, second.Changed(), "changed columns: %v", second.ChangedColumns())
	assert.Equal(t, first.Order.SourceEmailIDs, second.Order.SourceEmailIDs)
}

func TestFieldMerger(t *testing.T) {
	m := NewFieldMerger()

	t.Run("longest counts runes", func(t *testing.T) {
		v, won := m.Longest(models.StringPtr("café"), models.StringPtr("cafes"))
		assert.True(t, won)
		assert.Equal(t, "cafes", *v)

		_, won = m.Longest(models.StringPtr("abcd"), models.StringPtr("wxyz"))
		assert.False(t, won)
	})

	t.Run("append unique copies", func(t *testing.T) {
		in := []string{"a"}
		out, added := m.AppendUnique(in, "b")
		assert.True(t, added)
		assert.Equal(t, []string{"a"}, in)
		assert.Equal(t, []string{"a", "b"}, out)

		_, added = m.AppendUnique(out, "a")
		assert.False(t, added)
		_, added = m.AppendUnique(out, "")
		assert.False(t, added)
	})

	t.Run("policy keywords", func(t *testing.T) {
		assert.True(t, HasPolicyKeyword("Return within 30 DAYS"))
		assert.False(t, HasPolicyKeyword("Out for delivery"))
	})
}
