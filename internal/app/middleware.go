package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/evdms/evdms/internal/observability"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/session"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger   *slog.Logger
	Config   *Config
	Sessions *session.Manager
	Routes   *rbac.RouteTable
	Metrics  *observability.Metrics
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit int
}

// MiddlewareStack installs the EVDMS middleware chain. The session
// middleware runs before the route guard so the guard sees the device's
// authoritative session.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	loginPath, loginOnly := "/login", []string{"/login"}
	if cfg.Config != nil {
		loginPath, loginOnly = cfg.Config.LoginPath, cfg.Config.LoginOnlyPaths
	}
	// The root behaves like the login page: signed-in users land on their
	// namespace, everyone else falls through to the root handler.
	loginOnly = append([]string{"/"}, loginOnly...)

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
	if cfg.RateLimit > 0 {
		middlewares = append(middlewares, httprate.Limit(cfg.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	middlewares = append(middlewares,
		cfg.Sessions.Middleware,
		rbac.Guard(rbac.GuardConfig{
			Table:      cfg.Routes,
			Lookup:     cfg.Sessions.PrincipalFor,
			CookieName: cfg.Sessions.AuthCookie(),
			LoginPath:  loginPath,
			LoginOnly:  loginOnly,
			Logger:     cfg.Logger,
		}),
	)
	return middlewares
}
