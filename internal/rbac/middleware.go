package rbac

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/evdms/evdms/internal/platform/httpx"
)

// LookupFunc returns the principal of the authoritative session bound to the
// request, if any.
type LookupFunc func(r *http.Request) (Principal, bool)

// GuardConfig wires the route guard.
type GuardConfig struct {
	Table      *RouteTable
	Lookup     LookupFunc
	CookieName string
	LoginPath  string
	LoginOnly  []string
	Logger     *slog.Logger
}

// Guard enforces the route table on every request. The auth cookie is only a
// hint used to skip the session lookup for obviously anonymous requests;
// access is always decided against the authoritative session.
func Guard(cfg GuardConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}
	loginOnly := make(map[string]struct{}, len(cfg.LoginOnly))
	for _, p := range cfg.LoginOnly {
		loginOnly[normalizeRoute(p)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := normalizeRoute(r.URL.Path)

			hint, hintErr := r.Cookie(cfg.CookieName)
			hasHint := hintErr == nil && hint.Value != ""
			var (
				principal Principal
				ok        bool
			)
			if hasHint && cfg.Lookup != nil {
				principal, ok = cfg.Lookup(r)
			}

			if _, isLoginOnly := loginOnly[route]; isLoginOnly {
				if ok {
					res, err := Resolve(principal.Role)
					if err != nil {
						logger.Error("route guard resolve", slog.String("principal", principal.ID), slog.Any("error", err))
						httpx.RespondError(w, err)
						return
					}
					http.Redirect(w, r, res.BasePath, http.StatusSeeOther)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Table.IsPublic(route) {
				if ok {
					r = r.WithContext(ContextWithPrincipal(r.Context(), principal))
				}
				next.ServeHTTP(w, r)
				return
			}

			if !ok {
				if hasHint {
					clearHint(w, cfg.CookieName)
				}
				if isAPI(route) {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthenticated", "no valid session")
					return
				}
				target := loginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}

			if !cfg.Table.CanAccess(route, principal.Role) {
				if !cfg.Table.Known(route) {
					logger.Warn("route guard: route not in permission table", slog.String("route", route))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "role "+principal.Role.String()+" may not access "+route)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAny ensures the current principal holds at least one of the permissions.
func RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return requireRole(func(role Role) bool {
		for _, p := range perms {
			if Can(role, p) {
				return true
			}
		}
		return len(perms) == 0
	})
}

// RequireAll ensures the current principal holds all permissions.
func RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return requireRole(func(role Role) bool {
		for _, p := range perms {
			if !Can(role, p) {
				return false
			}
		}
		return true
	})
}

func requireRole(allowed func(Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthenticated", "no valid session")
				return
			}
			if !allowed(principal.Role) {
				httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAPI(route string) bool {
	return route == "/api" || strings.HasPrefix(route, "/api/")
}

func clearHint(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}
