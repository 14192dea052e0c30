package quotations

import (
	"time"

	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/pricing"
)

// CreateQuotationRequest is the body of POST /api/quotations.
type CreateQuotationRequest struct {
	CustomerID string            `json:"customer_id" validate:"required,max=64"`
	VehicleID  string            `json:"vehicle_id" validate:"required,max=64"`
	VariantID  string            `json:"variant_id" validate:"required,max=64"`
	ColorID    string            `json:"color_id" validate:"required,max=64"`
	DealerID   string            `json:"dealer_id" validate:"required,max=64"`
	Price      pricing.Breakdown `json:"price"`
	ValidUntil time.Time         `json:"valid_until" validate:"required"`
}

// TransitionRequest is the body of POST /api/quotations/{id}/transition.
type TransitionRequest struct {
	Expected lifecycle.QuotationStatus `json:"expected" validate:"required"`
	Next     lifecycle.QuotationStatus `json:"next" validate:"required"`
}
