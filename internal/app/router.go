package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evdms/evdms/internal/auth"
	"github.com/evdms/evdms/internal/finance"
	"github.com/evdms/evdms/internal/observability"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/sales/orders"
	"github.com/evdms/evdms/internal/sales/quotations"
	"github.com/evdms/evdms/internal/session"
	"github.com/evdms/evdms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Sessions          *session.Manager
	Routes            *rbac.RouteTable
	Metrics           *observability.Metrics
	RateLimit         int
	AuthHandler       *auth.Handler
	OrdersHandler     *orders.Handler
	QuotationsHandler *quotations.Handler
	FinanceHandler    *finance.Handler
	JobsHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with EVDMS defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:    params.Logger,
		Config:    params.Config,
		Sessions:  params.Sessions,
		Routes:    params.Routes,
		Metrics:   params.Metrics,
		RateLimit: params.RateLimit,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Reached only without a session; the guard redirects signed-in users.
	loginPath := "/login"
	if params.Config != nil && params.Config.LoginPath != "" {
		loginPath = params.Config.LoginPath
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
	})

	r.Route("/api", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r)
		if params.OrdersHandler != nil {
			params.OrdersHandler.MountRoutes(r)
		}
		if params.QuotationsHandler != nil {
			params.QuotationsHandler.MountRoutes(r)
		}
		if params.FinanceHandler != nil {
			params.FinanceHandler.MountRoutes(r)
		}
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
