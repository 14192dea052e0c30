package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// Observer counts transitions and clamped prices.
type Observer interface {
	LifecycleTransition(machine, result string)
	PricingClamped()
}

// sweepBatch bounds one ExpireOverdue pass.
const sweepBatch = 500

// Service runs the quotation workflow.
type Service struct {
	repo     Repository
	machine  *lifecycle.QuotationMachine
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the workflow. observer may be nil.
func NewService(repo Repository, logger *slog.Logger, observer Observer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		machine:  lifecycle.NewQuotationMachine(),
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Create drafts a quotation for a dealer. The final price is derived from
// the breakdown; a price that clamps to zero is accepted but reported.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, req CreateQuotationRequest) (View, error) {
	if !rbac.Can(actor.Role, rbac.PermQuotationCreate) || !actor.ActsFor(req.DealerID) {
		return View{}, fmt.Errorf("%w: %s may not quote for dealer %s", shared.ErrForbidden, actor.Role, req.DealerID)
	}
	if err := req.Price.Validate(); err != nil {
		return View{}, err
	}
	now := s.now().UTC()
	if !req.ValidUntil.After(now) {
		return View{}, fmt.Errorf("%w: valid_until must be in the future", shared.ErrValidation)
	}
	if res := req.Price.Final(); res.Clamped {
		s.logger.Warn("quotation price clamped to zero",
			slog.String("dealer_id", req.DealerID),
			slog.String("vehicle_id", req.VehicleID),
			slog.Int64("raw_price", int64(res.Raw)))
		if s.observer != nil {
			s.observer.PricingClamped()
		}
	}
	q, err := s.repo.Create(ctx, Quotation{
		ID:         uuid.NewString(),
		CustomerID: req.CustomerID,
		VehicleID:  req.VehicleID,
		VariantID:  req.VariantID,
		ColorID:    req.ColorID,
		DealerID:   req.DealerID,
		Price:      req.Price,
		ValidUntil: req.ValidUntil.UTC(),
		Status:     s.machine.Initial(),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return View{}, err
	}
	return s.view(q, actor, now), nil
}

// Get returns the quotation as of now.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id string) (View, error) {
	q, err := s.load(ctx, actor, id)
	if err != nil {
		return View{}, err
	}
	return s.view(q, actor, s.now()), nil
}

// List returns the quotations visible to actor.
func (s *Service) List(ctx context.Context, actor rbac.Principal, f ListFilter) ([]View, error) {
	if !rbac.Can(actor.Role, rbac.PermQuotationView) {
		return nil, fmt.Errorf("%w: %s may not view quotations", shared.ErrForbidden, actor.Role)
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
	quotes, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]View, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, s.view(q, actor, now))
	}
	return out, nil
}

// Transition moves quotation id to next. expected may name either the
// stored status or the effective one the caller was shown. An overdue
// quotation only moves to expired.
func (s *Service) Transition(ctx context.Context, actor rbac.Principal, id string, expected, next lifecycle.QuotationStatus) (View, error) {
	q, err := s.load(ctx, actor, id)
	if err != nil {
		return View{}, err
	}
	now := s.now()
	if expected != q.Status && expected != q.EffectiveStatus(now) {
		s.observe("conflict")
		return View{}, fmt.Errorf("%w: quotation %s is %s, expected %s", shared.ErrConflict, id, q.EffectiveStatus(now), expected)
	}
	saved, err := s.apply(ctx, q, next, actor.Role, now)
	if err != nil {
		s.logger.Info("quotation transition rejected",
			slog.String("quotation_id", id),
			slog.String("actor_id", actor.ID),
			slog.Any("error", err))
		return View{}, err
	}
	s.logger.Info("quotation transitioned",
		slog.String("quotation_id", id),
		slog.String("from", string(q.Status)),
		slog.String("to", string(next)),
		slog.String("actor_id", actor.ID))
	return s.view(saved, actor, now), nil
}

// ExpireOverdue persists expired for draft and sent quotations whose validity
// ended before now. It acts as the system (no role) and skips quotations
// that changed underneath it. It returns how many were expired.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.repo.ListOverdue(ctx, now, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue quotations: %w", err)
	}
	expired := 0
	for _, q := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := s.apply(ctx, q, lifecycle.QuotationExpired, rbac.NoRole, now)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, shared.ErrConflict):
			s.logger.Debug("quotation changed during sweep", slog.String("quotation_id", q.ID))
		default:
			return expired, fmt.Errorf("expire quotation %s: %w", q.ID, err)
		}
	}
	if expired > 0 {
		s.logger.Info("expired overdue quotations", slog.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) apply(ctx context.Context, q Quotation, next lifecycle.QuotationStatus, role rbac.Role, now time.Time) (Quotation, error) {
	applied, err := s.machine.Apply(q, next, role, now)
	if err != nil {
		if errors.Is(err, shared.ErrExpired) {
			s.observe("expired")
		} else {
			s.observe("rejected")
		}
		return Quotation{}, err
	}
	applied.UpdatedAt = now.UTC()
	saved, err := s.repo.CompareAndSetStatus(ctx, q.ID, q.Status, applied)
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.observe("conflict")
		}
		return Quotation{}, err
	}
	s.observe("applied")
	return saved, nil
}

func (s *Service) load(ctx context.Context, actor rbac.Principal, id string) (Quotation, error) {
	if !rbac.Can(actor.Role, rbac.PermQuotationView) {
		return Quotation{}, fmt.Errorf("%w: %s may not view quotations", shared.ErrForbidden, actor.Role)
	}
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return Quotation{}, err
	}
	if !visible(actor, q) {
		return Quotation{}, fmt.Errorf("%w: quotation %s is not visible to %s", shared.ErrForbidden, id, actor.ID)
	}
	return q, nil
}

func (s *Service) view(q Quotation, actor rbac.Principal, now time.Time) View {
	v := View{Quotation: q, FinalPrice: q.FinalPrice(), Next: s.machine.Next(q, actor.Role, now)}
	v.Status = q.EffectiveStatus(now)
	return v
}

func (s *Service) observe(result string) {
	if s.observer != nil {
		s.observer.LifecycleTransition("quotation", result)
	}
}

func visible(actor rbac.Principal, q Quotation) bool {
	if actor.Role == rbac.RoleCustomer {
		return q.CustomerID == actor.ID
	}
	return actor.ActsFor(q.DealerID)
}
