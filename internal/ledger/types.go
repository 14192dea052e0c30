// Package ledger tracks dealer debt against a credit limit. The limit check
// and the debt update happen in one compare-and-commit inside the store.
package ledger

import (
	"context"
	"time"

	"github.com/evdms/evdms/internal/pricing"
)

// Kind is the ledger entry type.
type Kind string

const (
	KindCharge  Kind = "charge"
	KindPayment Kind = "payment"
	// KindReversal undoes a charge that was never acted on.
	KindReversal Kind = "reversal"
)

// increasesDebt reports whether committing the kind adds to the debt.
func (k Kind) increasesDebt() bool { return k == KindCharge }

// Account is a dealer's credit line.
type Account struct {
	DealerID    string        `json:"dealer_id"`
	DebtLimit   pricing.Money `json:"debt_limit"`
	CurrentDebt pricing.Money `json:"current_debt"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Available is the headroom left under the limit. It is negative when an
// override pushed the debt past the limit.
func (a Account) Available() pricing.Money {
	return a.DebtLimit - a.CurrentDebt
}

// OverLimit reports whether the debt exceeds the limit.
func (a Account) OverLimit() bool {
	return a.CurrentDebt > a.DebtLimit
}

// Entry is one committed ledger movement.
type Entry struct {
	ID       string        `json:"id"`
	DealerID string        `json:"dealer_id"`
	Kind     Kind          `json:"kind"`
	Amount   pricing.Money `json:"amount"`
	// Override records that the debt limit was deliberately bypassed.
	Override  bool      `json:"override,omitempty"`
	ActorID   string    `json:"actor_id"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists accounts and entries. Commit must check and apply the entry
// atomically with respect to every other Commit on the same dealer:
//   - charge: rejected with ErrDebtLimitExceeded when debt+amount > limit,
//     unless the entry carries Override.
//   - payment and reversal: rejected with ErrInvalidAmount when amount > debt.
type Store interface {
	OpenAccount(ctx context.Context, acct Account) (Account, error)
	Account(ctx context.Context, dealerID string) (Account, error)
	Commit(ctx context.Context, e Entry) (Account, error)
	Entries(ctx context.Context, dealerID string, limit int) ([]Entry, error)
}
