package quotations

import (
	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/pricing"
)

// Quotation is the persisted quotation aggregate.
type Quotation = lifecycle.Quotation

// ListFilter narrows List. Empty fields match everything. Status filters on
// the stored status.
type ListFilter struct {
	DealerID   string
	CustomerID string
	Status     lifecycle.QuotationStatus
	Limit      int
}

// View is what every read returns: the effective status, the derived final
// price and the transitions the caller may take next.
type View struct {
	Quotation
	FinalPrice pricing.Result              `json:"final_price"`
	Next       []lifecycle.QuotationStatus `json:"next"`
}
