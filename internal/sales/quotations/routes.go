package quotations

import (
	"github.com/go-chi/chi/v5"

	"github.com/evdms/evdms/internal/rbac"
)

// MountRoutes registers the quotation endpoints under r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.PermQuotationView))
		r.Get("/quotations", h.list)
		r.Get("/quotations/{id}", h.show)
		// Expiry is open to every viewer, the machine guards the rest.
		r.Post("/quotations/{id}/transition", h.transition)
	})
	r.With(rbac.RequireAny(rbac.PermQuotationCreate)).Post("/quotations", h.create)
}
