// Package auth binds the identity provider to the per-device session store
// over HTTP.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/evdms/evdms/internal/identity"
	"github.com/evdms/evdms/internal/platform/httpx"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/session"
	"github.com/evdms/evdms/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	provider  identity.Provider
	routes    *rbac.RouteTable
	menu      []rbac.MenuItem
	validator *validator.Validate
}

// NewHandler constructs a Handler. menu is filtered per principal against
// routes.
func NewHandler(logger *slog.Logger, provider identity.Provider, routes *rbac.RouteTable, menu []rbac.MenuItem) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		provider:  provider,
		routes:    routes,
		menu:      menu,
		validator: httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Post("/auth/refresh", h.handleRefresh)
	r.Get("/session", h.showSession)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// SessionResponse describes the current session to the dashboard.
type SessionResponse struct {
	Session    *session.Session `json:"session"`
	Resolution rbac.Resolution  `json:"resolution"`
	Menu       []rbac.MenuItem  `json:"menu"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.provider.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("email", req.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	store, err := session.Open(r.Context())
	if err != nil {
		h.logger.Error("session store unavailable during login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	sess, err := store.Login(r.Context(), grant.AccessToken, grant.RefreshToken, grant.Principal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, sess)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if store := session.FromContext(r.Context()); store != nil {
		store.Logout(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	store := session.FromContext(r.Context())
	if store == nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	sess, err := store.Refresh(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, sess)
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	store := session.FromContext(r.Context())
	if store == nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	sess := store.CurrentSession()
	if sess == nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	h.respond(w, r, sess)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	res, err := rbac.Resolve(sess.Principal.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, SessionResponse{
		Session:    sess,
		Resolution: res,
		Menu:       rbac.FilterMenu(h.routes, h.menu, sess.Principal.Role),
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := httpx.StatusFor(err); status == http.StatusInternalServerError {
		h.logger.Error("auth request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
