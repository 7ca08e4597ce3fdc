package models

import "sort"

// Column names used as keys of MergeResult.Changes. They match the orders
// table so the repository can apply a change set directly.
const (
	ColumnOrderNumber          = "order_number"
	ColumnTrackingNumber       = "tracking_number"
	ColumnMerchantDomain       = "merchant_domain"
	ColumnMerchantDisplayName  = "merchant_display_name"
	ColumnNormalizedMerchant   = "normalized_merchant"
	ColumnItemSummary          = "item_summary"
	ColumnEvidenceSnippet      = "evidence_snippet"
	ColumnReturnPortalLink     = "return_portal_link"
	ColumnShippingTrackingLink = "shipping_tracking_link"
	ColumnPurchaseDate         = "purchase_date"
	ColumnShipDate             = "ship_date"
	ColumnDeliveryDate         = "delivery_date"
	ColumnReturnByDate         = "return_by_date"
	ColumnExplicitReturnByDate = "explicit_return_by_date"
	ColumnReturnWindowDays     = "return_window_days"
	ColumnAmount               = "amount"
	ColumnCurrency             = "currency"
	ColumnSourceEmailIDs       = "source_email_ids"
	ColumnDeadlineConfidence   = "deadline_confidence"
	ColumnMatchTime            = "match_time"
	ColumnUpdatedAt            = "updated_at"
)

// MergeResult is the outcome of merging a field-set into an order.
type MergeResult struct {
	// Order is the merged copy; the input order is left untouched.
	Order *Order `json:"order"`
	// Changes maps column name to new value for every field that changed.
	Changes map[string]any `json:"changes"`
	IsNew   bool           `json:"is_new"`
}

// Changed reports whether the merge changed anything besides updated_at.
func (r *MergeResult) Changed() bool {
	for col := range r.Changes {
		if col != ColumnUpdatedAt {
			return true
		}
	}
	return false
}

// ChangedColumns lists changed columns other than updated_at, sorted.
func (r *MergeResult) ChangedColumns() []string {
	cols := make([]string, 0, len(r.Changes))
	for col := range r.Changes {
		if col != ColumnUpdatedAt {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	return cols
}
