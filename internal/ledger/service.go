package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// Observer receives rejection counts. observability.Metrics satisfies it.
type Observer interface {
	LedgerRejected(reason string)
}

// Result is the outcome of a committed movement.
type Result struct {
	Entry   Entry   `json:"entry"`
	Account Account `json:"account"`
	// OverLimit flags a committed override that left the debt above the limit.
	OverLimit bool `json:"over_limit"`
}

// Service is the DebtLedger.
type Service struct {
	store    Store
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewService constructs the ledger service. observer may be nil.
func NewService(store Store, logger *slog.Logger, observer Observer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, observer: observer, now: time.Now}
}

// OpenAccount creates a dealer credit line with zero debt.
func (s *Service) OpenAccount(ctx context.Context, actor rbac.Principal, dealerID string, limit pricing.Money) (Account, error) {
	if !rbac.Can(actor.Role, rbac.PermLedgerOverride) {
		return Account{}, fmt.Errorf("%w: %s may not open credit lines", shared.ErrForbidden, actor.Role)
	}
	if dealerID == "" {
		return Account{}, fmt.Errorf("%w: dealer id required", shared.ErrValidation)
	}
	if limit.IsNegative() || !limit.InBounds() {
		return Account{}, fmt.Errorf("%w: debt limit must be between 0 and %d", shared.ErrInvalidAmount, pricing.MaxAmount)
	}
	return s.store.OpenAccount(ctx, Account{DealerID: dealerID, DebtLimit: limit, UpdatedAt: s.now().UTC()})
}

// Account returns the dealer account.
func (s *Service) Account(ctx context.Context, dealerID string) (Account, error) {
	return s.store.Account(ctx, dealerID)
}

// Entries returns the newest entries of a dealer, newest first.
func (s *Service) Entries(ctx context.Context, dealerID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.Entries(ctx, dealerID, limit)
}

// RecordCharge adds amount to the dealer debt. The charge fails with
// ErrDebtLimitExceeded when it would breach the limit, unless override is set;
// only Admin may override. Failures are reported, never retried.
func (s *Service) RecordCharge(ctx context.Context, actor rbac.Principal, dealerID string, amount pricing.Money, override bool, reference string) (Result, error) {
	if !amount.IsPositive() || !amount.InBounds() {
		s.reject("invalid_amount")
		return Result{}, fmt.Errorf("%w: charge must be between 1 and %d", shared.ErrInvalidAmount, pricing.MaxAmount)
	}
	if override && !rbac.Can(actor.Role, rbac.PermLedgerOverride) {
		s.reject("override_forbidden")
		return Result{}, fmt.Errorf("%w: %s may not override the debt limit", shared.ErrForbidden, actor.Role)
	}
	res, err := s.commit(ctx, Entry{
		DealerID:  dealerID,
		Kind:      KindCharge,
		Amount:    amount,
		Override:  override,
		ActorID:   actor.ID,
		Reference: reference,
	})
	if err != nil {
		return Result{}, err
	}
	if res.OverLimit {
		s.logger.Warn("debt limit override committed",
			slog.String("dealer_id", dealerID),
			slog.String("actor", actor.ID),
			slog.Int64("debt", int64(res.Account.CurrentDebt)),
			slog.Int64("limit", int64(res.Account.DebtLimit)))
	}
	return res, nil
}

// RecordPayment reduces the dealer debt. amount must be positive and may not
// exceed the current debt.
func (s *Service) RecordPayment(ctx context.Context, actor rbac.Principal, dealerID string, amount pricing.Money, reference string) (Result, error) {
	if !amount.IsPositive() || !amount.InBounds() {
		s.reject("invalid_amount")
		return Result{}, fmt.Errorf("%w: payment must be between 1 and %d", shared.ErrInvalidAmount, pricing.MaxAmount)
	}
	return s.commit(ctx, Entry{
		DealerID:  dealerID,
		Kind:      KindPayment,
		Amount:    amount,
		ActorID:   actor.ID,
		Reference: reference,
	})
}

// Reverse compensates a committed charge. It is used when the action the
// charge paid for could not be persisted.
func (s *Service) Reverse(ctx context.Context, actor rbac.Principal, charge Entry) (Result, error) {
	if charge.Kind != KindCharge {
		return Result{}, fmt.Errorf("%w: only charges can be reversed", shared.ErrValidation)
	}
	return s.commit(ctx, Entry{
		DealerID:  charge.DealerID,
		Kind:      KindReversal,
		Amount:    charge.Amount,
		ActorID:   actor.ID,
		Reference: charge.ID,
	})
}

func (s *Service) commit(ctx context.Context, e Entry) (Result, error) {
	if e.DealerID == "" {
		return Result{}, fmt.Errorf("%w: dealer id required", shared.ErrValidation)
	}
	now := s.now().UTC()
	e.ID = newEntryID(now)
	e.CreatedAt = now

	acct, err := s.store.Commit(ctx, e)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrDebtLimitExceeded):
			s.reject("debt_limit")
		case errors.Is(err, shared.ErrInvalidAmount):
			s.reject("invalid_amount")
		case errors.Is(err, shared.ErrNotFound):
			s.reject("unknown_account")
		}
		s.logger.Info("ledger entry rejected",
			slog.String("dealer_id", e.DealerID),
			slog.String("kind", string(e.Kind)),
			slog.Int64("amount", int64(e.Amount)),
			slog.Any("error", err))
		return Result{}, err
	}
	return Result{Entry: e, Account: acct, OverLimit: acct.OverLimit()}, nil
}

func (s *Service) reject(reason string) {
	if s.observer != nil {
		s.observer.LedgerRejected(reason)
	}
}

// check applies the commit rule to an in-memory account snapshot. Stores that
// hold the account under a lock use it directly. The limit test compares the
// amount against the remaining headroom so no sum can wrap.
func check(acct Account, e Entry) (Account, error) {
	if !e.Amount.IsPositive() || !e.Amount.InBounds() {
		return acct, fmt.Errorf("%w: amount must be between 1 and %d", shared.ErrInvalidAmount, pricing.MaxAmount)
	}
	if e.Kind.increasesDebt() {
		if !e.Override && e.Amount > acct.DebtLimit-acct.CurrentDebt {
			return acct, fmt.Errorf("%w: dealer %s debt %d + %d exceeds limit %d",
				shared.ErrDebtLimitExceeded, acct.DealerID, acct.CurrentDebt, e.Amount, acct.DebtLimit)
		}
		if acct.CurrentDebt > pricing.MaxAmount-e.Amount {
			return acct, fmt.Errorf("%w: dealer %s debt %d + %d exceeds %d",
				shared.ErrInvalidAmount, acct.DealerID, acct.CurrentDebt, e.Amount, pricing.MaxAmount)
		}
		acct.CurrentDebt += e.Amount
		return acct, nil
	}
	if e.Amount > acct.CurrentDebt {
		return acct, fmt.Errorf("%w: %s of %d exceeds debt %d", shared.ErrInvalidAmount, e.Kind, e.Amount, acct.CurrentDebt)
	}
	acct.CurrentDebt -= e.Amount
	return acct, nil
}
