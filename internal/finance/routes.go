package finance

import (
	"github.com/go-chi/chi/v5"

	"github.com/evdms/evdms/internal/rbac"
)

// MountRoutes registers the finance endpoints under r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.PermPricingQuote))
		r.Post("/pricing/quote", h.quote)
		r.Post("/finance/amortization", h.amortize)
	})
	r.Route("/dealers/{id}", func(r chi.Router) {
		r.With(rbac.RequireAny(rbac.PermLedgerView)).Get("/account", h.account)
		r.With(rbac.RequireAny(rbac.PermLedgerOverride)).Post("/account", h.openAccount)
		r.With(rbac.RequireAny(rbac.PermLedgerCharge)).Post("/charges", h.charge)
		r.With(rbac.RequireAny(rbac.PermLedgerPayment)).Post("/payments", h.payment)
	})
}
