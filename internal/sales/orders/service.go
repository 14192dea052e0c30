package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evdms/evdms/internal/ledger"
	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// Ledger is the part of the debt ledger the order workflow consults.
type Ledger interface {
	RecordCharge(ctx context.Context, actor rbac.Principal, dealerID string, amount pricing.Money, override bool, reference string) (ledger.Result, error)
	Reverse(ctx context.Context, actor rbac.Principal, charge ledger.Entry) (ledger.Result, error)
}

// Observer counts transition outcomes.
type Observer interface {
	LifecycleTransition(machine, result string)
}

// Service runs the order workflow on top of the order machine.
type Service struct {
	repo     Repository
	machine  *lifecycle.OrderMachine
	ledger   Ledger
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the workflow. observer may be nil.
func NewService(repo Repository, debts Ledger, logger *slog.Logger, observer Observer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		machine:  lifecycle.NewOrderMachine(),
		ledger:   debts,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Create places a pending order. Roles that may advance orders may create
// them; dealer roles only for their own dealer.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, req CreateOrderRequest) (Order, error) {
	if !rbac.Can(actor.Role, rbac.PermOrderAdvance) || !actor.ActsFor(req.DealerID) {
		return Order{}, fmt.Errorf("%w: %s may not place orders for dealer %s", shared.ErrForbidden, actor.Role, req.DealerID)
	}
	if !req.TotalAmount.IsPositive() || !req.TotalAmount.InBounds() {
		return Order{}, fmt.Errorf("%w: total amount must be between 1 and %d", shared.ErrInvalidAmount, pricing.MaxAmount)
	}
	if !req.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", shared.ErrValidation, req.PaymentMethod)
	}
	now := s.now().UTC()
	return s.repo.Create(ctx, Order{
		ID:            uuid.NewString(),
		CustomerID:    req.CustomerID,
		VehicleID:     req.VehicleID,
		DealerID:      req.DealerID,
		TotalAmount:   req.TotalAmount,
		PaymentMethod: req.PaymentMethod,
		Status:        s.machine.Initial(),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// Get returns the order with the transitions actor may take next.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id string) (View, error) {
	o, err := s.load(ctx, actor, id)
	if err != nil {
		return View{}, err
	}
	return s.view(o, actor), nil
}

// List returns the orders visible to actor.
func (s *Service) List(ctx context.Context, actor rbac.Principal, f ListFilter) ([]View, error) {
	if !rbac.Can(actor.Role, rbac.PermOrderView) {
		return nil, fmt.Errorf("%w: %s may not view orders", shared.ErrForbidden, actor.Role)
	}
	switch {
	case actor.IsDealer():
		f.DealerID = actor.DealerID
	case actor.Role == rbac.RoleCustomer:
		f.CustomerID = actor.ID
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	orders, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(orders))
	for _, o := range orders {
		out = append(out, s.view(o, actor))
	}
	return out, nil
}

// Transition moves order id from expected to next. The stored status must
// still be expected, otherwise ErrConflict. Approval charges the dealer
// ledger with the order total first; if the status write then loses a race
// the charge is reversed. Once the first side effect has started the call
// runs to completion even if ctx is cancelled.
func (s *Service) Transition(ctx context.Context, actor rbac.Principal, id string, expected, next lifecycle.OrderStatus) (View, error) {
	cur, err := s.load(ctx, actor, id)
	if err != nil {
		return View{}, err
	}
	if cur.Status != expected {
		s.observe("conflict")
		return View{}, fmt.Errorf("%w: order %s is %s, expected %s", shared.ErrConflict, id, cur.Status, expected)
	}
	applied, err := s.machine.Apply(cur, next, actor.Role)
	if err != nil {
		s.observe("rejected")
		s.logger.Info("order transition rejected",
			slog.String("order_id", id),
			slog.String("actor_id", actor.ID),
			slog.Any("error", err))
		return View{}, err
	}
	if err := ctx.Err(); err != nil {
		return View{}, err
	}
	ctx = context.WithoutCancel(ctx)

	var charge *ledger.Entry
	if cur.Status == lifecycle.OrderPending && next == lifecycle.OrderApproved {
		res, err := s.ledger.RecordCharge(ctx, actor, cur.DealerID, cur.TotalAmount, false, "order:"+cur.ID)
		if err != nil {
			s.observe("rejected")
			return View{}, fmt.Errorf("approve order %s: %w", id, err)
		}
		charge = &res.Entry
		applied.ChargeEntryID = res.Entry.ID
	}
	applied.UpdatedAt = s.now().UTC()

	saved, err := s.repo.CompareAndSetStatus(ctx, id, expected, applied)
	if err != nil {
		if charge != nil {
			s.compensate(ctx, actor, *charge)
		}
		if errors.Is(err, shared.ErrConflict) {
			s.observe("conflict")
		}
		return View{}, err
	}
	s.observe("applied")
	s.logger.Info("order transitioned",
		slog.String("order_id", id),
		slog.String("from", string(expected)),
		slog.String("to", string(next)),
		slog.String("actor_id", actor.ID))
	return s.view(saved, actor), nil
}

func (s *Service) compensate(ctx context.Context, actor rbac.Principal, charge ledger.Entry) {
	if _, err := s.ledger.Reverse(ctx, actor, charge); err != nil {
		s.logger.Error("reverse order charge failed",
			slog.String("dealer_id", charge.DealerID),
			slog.String("entry_id", charge.ID),
			slog.Any("error", err))
	}
}

func (s *Service) load(ctx context.Context, actor rbac.Principal, id string) (Order, error) {
	if !rbac.Can(actor.Role, rbac.PermOrderView) {
		return Order{}, fmt.Errorf("%w: %s may not view orders", shared.ErrForbidden, actor.Role)
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !visible(actor, o) {
		return Order{}, fmt.Errorf("%w: order %s belongs to another dealer", shared.ErrForbidden, id)
	}
	return o, nil
}

func (s *Service) view(o Order, actor rbac.Principal) View {
	return View{Order: o, Next: s.machine.Next(o.Status, actor.Role)}
}

func (s *Service) observe(result string) {
	if s.observer != nil {
		s.observer.LifecycleTransition("order", result)
	}
}

func visible(actor rbac.Principal, o Order) bool {
	if actor.Role == rbac.RoleCustomer {
		return o.CustomerID == actor.ID
	}
	return actor.ActsFor(o.DealerID)
}
