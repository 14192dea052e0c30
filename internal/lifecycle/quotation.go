package lifecycle

import (
	"sort"
	"time"

	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/rbac"
)

// QuotationStatus is the quotation lifecycle state.
type QuotationStatus string

const (
	QuotationDraft    QuotationStatus = "draft"
	QuotationSent     QuotationStatus = "sent"
	QuotationAccepted QuotationStatus = "accepted"
	QuotationRejected QuotationStatus = "rejected"
	QuotationExpired  QuotationStatus = "expired"
)

// Quotation is a priced offer for a configured vehicle. The final price is
// always derived from the price inputs.
type Quotation struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	VehicleID  string            `json:"vehicle_id"`
	VariantID  string            `json:"variant_id"`
	ColorID    string            `json:"color_id"`
	DealerID   string            `json:"dealer_id"`
	Price      pricing.Breakdown `json:"price"`
	ValidUntil time.Time         `json:"valid_until"`
	Status     QuotationStatus   `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// FinalPrice is the PricingEngine output for the quotation inputs.
func (q Quotation) FinalPrice() pricing.Result {
	return q.Price.Final()
}

// Overdue reports whether validUntil has passed at now.
func (q Quotation) Overdue(now time.Time) bool {
	return !q.ValidUntil.IsZero() && now.After(q.ValidUntil)
}

// EffectiveStatus is the status every read path must report: an overdue
// draft or sent quotation reads as expired whatever is stored.
func (q Quotation) EffectiveStatus(now time.Time) QuotationStatus {
	if (q.Status == QuotationDraft || q.Status == QuotationSent) && q.Overdue(now) {
		return QuotationExpired
	}
	return q.Status
}

// QuotationMachine is the quotation lifecycle.
type QuotationMachine struct {
	m *machine[QuotationStatus]
}

// NewQuotationMachine builds the quotation edge table. Before validUntil only
// quotation senders may expire (withdraw) a quotation; once it is overdue any
// actor, including the system (NoRole), may record the expiry.
func NewQuotationMachine() *QuotationMachine {
	m := newMachine("quotation", QuotationDraft,
		[]QuotationStatus{QuotationDraft, QuotationSent, QuotationAccepted, QuotationRejected, QuotationExpired},
		[]QuotationStatus{QuotationAccepted, QuotationRejected, QuotationExpired},
	)
	m.allow(holds(rbac.PermQuotationSend), QuotationSent, QuotationDraft)
	respond := holds(rbac.PermQuotationRespond)
	m.allow(respond, QuotationAccepted, QuotationSent)
	m.allow(respond, QuotationRejected, QuotationSent)
	m.allow(holds(rbac.PermQuotationSend), QuotationExpired, QuotationDraft, QuotationSent)
	return &QuotationMachine{m: m}
}

// Initial returns the state new quotations start in.
func (qm *QuotationMachine) Initial() QuotationStatus { return qm.m.initial }

// Valid reports whether s is a quotation state.
func (qm *QuotationMachine) Valid(s QuotationStatus) bool { return qm.m.valid(s) }

// IsTerminal reports whether s has no outgoing edges.
func (qm *QuotationMachine) IsTerminal(s QuotationStatus) bool { return qm.m.isTerminal(s) }

// CanTransition reports whether role may move a quotation from current to
// next, ignoring time.
func (qm *QuotationMachine) CanTransition(current, next QuotationStatus, role rbac.Role) bool {
	return qm.m.canTransition(current, next, role)
}

// Next lists the states role may move q to at now, sorted.
func (qm *QuotationMachine) Next(q Quotation, role rbac.Role, now time.Time) []QuotationStatus {
	if q.Overdue(now) && !qm.m.isTerminal(q.Status) {
		return []QuotationStatus{QuotationExpired}
	}
	out := qm.m.next(q.Status, role)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply returns a copy of q in state next. An overdue quotation may only
// move to expired, which any role may do. q is never modified.
func (qm *QuotationMachine) Apply(q Quotation, next QuotationStatus, role rbac.Role, now time.Time) (Quotation, error) {
	if q.Overdue(now) && !qm.m.isTerminal(q.Status) {
		if next != QuotationExpired {
			return q, qm.m.reject(q.Status, next, role, true)
		}
		q.Status = next
		return q, nil
	}
	if !qm.m.canTransition(q.Status, next, role) {
		return q, qm.m.reject(q.Status, next, role, false)
	}
	q.Status = next
	return q, nil
}
