package orders

import (
	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/pricing"
)

// CreateOrderRequest is the body of POST /api/orders.
type CreateOrderRequest struct {
	CustomerID    string                  `json:"customer_id" validate:"required,max=64"`
	VehicleID     string                  `json:"vehicle_id" validate:"required,max=64"`
	DealerID      string                  `json:"dealer_id" validate:"required,max=64"`
	TotalAmount   pricing.Money           `json:"total_amount" validate:"gt=0,lte=9007199254740991"`
	PaymentMethod lifecycle.PaymentMethod `json:"payment_method" validate:"required,oneof=cash installment"`
}

// TransitionRequest is the body of POST /api/orders/{id}/transition.
// Expected is the status the caller last saw.
type TransitionRequest struct {
	Expected lifecycle.OrderStatus `json:"expected" validate:"required"`
	Next     lifecycle.OrderStatus `json:"next" validate:"required"`
}
