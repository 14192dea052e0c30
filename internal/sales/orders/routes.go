package orders

import (
	"github.com/go-chi/chi/v5"

	"github.com/evdms/evdms/internal/rbac"
)

// MountRoutes registers the order endpoints under r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.PermOrderView))
		r.Get("/orders", h.list)
		r.Get("/orders/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.PermOrderAdvance, rbac.PermOrderCancel))
		r.Post("/orders", h.create)
		r.Post("/orders/{id}/transition", h.transition)
	})
}
