package lifecycle

import (
	"sort"
	"time"

	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/rbac"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderPending          OrderStatus = "pending"
	OrderApproved         OrderStatus = "approved"
	OrderVehicleAllocated OrderStatus = "vehicle_allocated"
	OrderDelivered        OrderStatus = "delivered"
	OrderCompleted        OrderStatus = "completed"
	OrderCancelled        OrderStatus = "cancelled"
)

// PaymentMethod is how the customer settles the order.
type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentInstallment PaymentMethod = "installment"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentInstallment
}

// Order is a vehicle sale.
type Order struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	VehicleID     string        `json:"vehicle_id"`
	DealerID      string        `json:"dealer_id"`
	TotalAmount   pricing.Money `json:"total_amount"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        OrderStatus   `json:"status"`
	// ChargeEntryID links the ledger charge recorded on approval.
	ChargeEntryID string    `json:"charge_entry_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderMachine is the order lifecycle.
type OrderMachine struct {
	m *machine[OrderStatus]
}

// NewOrderMachine builds the order edge table.
func NewOrderMachine() *OrderMachine {
	m := newMachine("order", OrderPending,
		[]OrderStatus{OrderPending, OrderApproved, OrderVehicleAllocated, OrderDelivered, OrderCompleted, OrderCancelled},
		[]OrderStatus{OrderCompleted, OrderCancelled},
	)
	advance := holds(rbac.PermOrderAdvance)
	m.allow(advance, OrderApproved, OrderPending)
	m.allow(advance, OrderVehicleAllocated, OrderApproved)
	m.allow(advance, OrderDelivered, OrderVehicleAllocated)
	m.allow(advance, OrderCompleted, OrderDelivered)
	// Delivered vehicles need a separate reversal process.
	m.allow(holds(rbac.PermOrderCancel), OrderCancelled, OrderPending, OrderApproved, OrderVehicleAllocated)
	return &OrderMachine{m: m}
}

// Initial returns the state new orders start in.
func (om *OrderMachine) Initial() OrderStatus { return om.m.initial }

// Valid reports whether s is an order state.
func (om *OrderMachine) Valid(s OrderStatus) bool { return om.m.valid(s) }

// IsTerminal reports whether s has no outgoing edges.
func (om *OrderMachine) IsTerminal(s OrderStatus) bool { return om.m.isTerminal(s) }

// CanTransition reports whether role may move an order from current to next.
func (om *OrderMachine) CanTransition(current, next OrderStatus, role rbac.Role) bool {
	return om.m.canTransition(current, next, role)
}

// Next lists the states role may move an order to, sorted.
func (om *OrderMachine) Next(current OrderStatus, role rbac.Role) []OrderStatus {
	out := om.m.next(current, role)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply returns a copy of o in state next. o is never modified.
func (om *OrderMachine) Apply(o Order, next OrderStatus, role rbac.Role) (Order, error) {
	if !om.m.canTransition(o.Status, next, role) {
		return o, om.m.reject(o.Status, next, role, false)
	}
	o.Status = next
	return o, nil
}
