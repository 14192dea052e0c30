package orders

import "github.com/evdms/evdms/internal/lifecycle"

// Order is the persisted order aggregate.
type Order = lifecycle.Order

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	DealerID   string
	CustomerID string
	Status     lifecycle.OrderStatus
	Limit      int
}

// View is an order together with the transitions the caller may take next.
type View struct {
	Order
	Next []lifecycle.OrderStatus `json:"next"`
}
