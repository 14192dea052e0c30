// Package finance exposes pricing, amortization and the dealer debt ledger
// over HTTP.
package finance

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/evdms/evdms/internal/ledger"
	"github.com/evdms/evdms/internal/platform/httpx"
	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// Observer counts clamped prices.
type Observer interface {
	PricingClamped()
}

// Handler serves the finance endpoints.
type Handler struct {
	logger    *slog.Logger
	ledger    *ledger.Service
	observer  Observer
	validator *validator.Validate
}

// NewHandler constructs the handler. observer may be nil.
func NewHandler(logger *slog.Logger, debts *ledger.Service, observer Observer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, ledger: debts, observer: observer, validator: httpx.NewValidator()}
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req pricing.Breakdown
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res := req.Final()
	if res.Clamped {
		h.logger.Warn("price clamped to zero", slog.Int64("raw_price", int64(res.Raw)))
		if h.observer != nil {
			h.observer.PricingClamped()
		}
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) amortize(w http.ResponseWriter, r *http.Request) {
	var req AmortizationRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := pricing.MonthlyPayment(req.Principal, req.AnnualRatePercent, req.Months)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := AmortizationResponse{MonthlyPayment: payment, TotalPaid: payment * pricing.Money(req.Months)}
	if req.IncludeSchedule && req.Months > 0 {
		schedule, err := pricing.Schedule(req.Principal, req.AnnualRatePercent, req.Months)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resp.Schedule = schedule
		resp.TotalPaid = 0
		for _, row := range schedule {
			resp.TotalPaid += row.Payment
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	_, dealerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	acct, err := h.ledger.Account(r.Context(), dealerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.ledger.Entries(r.Context(), dealerID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, AccountResponse{
		Account:   acct,
		Available: acct.Available(),
		OverLimit: acct.OverLimit(),
		Entries:   entries,
	})
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	actor, dealerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req OpenAccountRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acct, err := h.ledger.OpenAccount(r.Context(), actor, dealerID, req.DebtLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct)
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request) {
	actor, dealerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req ChargeRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.ledger.RecordCharge(r.Context(), actor, dealerID, req.Amount, req.Override, req.Reference)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) payment(w http.ResponseWriter, r *http.Request) {
	actor, dealerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.ledger.RecordPayment(r.Context(), actor, dealerID, req.Amount, req.Reference)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

// scope resolves the acting principal and confines dealer roles to their
// own dealer.
func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (rbac.Principal, string, bool) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return rbac.Principal{}, "", false
	}
	dealerID := chi.URLParam(r, "id")
	if !actor.ActsFor(dealerID) {
		httpx.RespondError(w, shared.ErrForbidden)
		return rbac.Principal{}, "", false
	}
	return actor, dealerID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status == http.StatusInternalServerError {
		h.logger.Error("finance request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
