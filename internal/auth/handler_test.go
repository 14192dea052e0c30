package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/identity"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/session"
)

type testServer struct {
	*httptest.Server
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hash, err := identity.HashPassword("correct-horse")
	require.NoError(t, err)
	users := identity.NewMemoryRepository()
	users.Put(identity.User{ID: "u-1", Email: "dana@dealer.test", PasswordHash: hash, DisplayName: "Dana",
		Role: rbac.RoleDealerManager, DealerID: "d-1", IsActive: true})
	signer, err := identity.NewSigner("test-secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)
	provider := identity.NewLocal(users, signer, nil)

	storages := map[string]session.Storage{}
	manager := session.NewManager(session.ManagerConfig{
		Storage: func(device string) session.Storage {
			if s, ok := storages[device]; ok {
				return s
			}
			s := session.NewMemoryStorage()
			storages[device] = s
			return s
		},
		Remote:   provider,
		TokenTTL: time.Hour,
	})
	t.Cleanup(manager.Close)

	table, err := rbac.DefaultRouteTable()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(manager.Middleware)
	r.Use(rbac.Guard(rbac.GuardConfig{
		Table:      table,
		Lookup:     manager.PrincipalFor,
		CookieName: manager.AuthCookie(),
		LoginPath:  "/login",
	}))
	r.Route("/api", NewHandler(nil, provider, table, rbac.DefaultMenu()).MountRoutes)
	r.Get("/dealer/dashboard", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testServer{
		Server: srv,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (s *testServer) call(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, []byte(buf.String())
}

func menuTitles(items []rbac.MenuItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Title)
	}
	return out
}

func TestLoginSessionRefreshLogout(t *testing.T) {
	srv := newTestServer(t)

	res, _ := srv.call(t, http.MethodPost, "/api/auth/login", `{"email":"dana@dealer.test","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = srv.call(t, http.MethodPost, "/api/auth/login", `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := srv.call(t, http.MethodPost, "/api/auth/login", `{"email":"dana@dealer.test","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var login SessionResponse
	require.NoError(t, json.Unmarshal(body, &login))
	assert.Equal(t, "u-1", login.Session.Principal.ID)
	assert.Equal(t, rbac.NamespaceDealer, login.Resolution.Namespace)
	assert.Equal(t, "/dealer/dashboard", login.Resolution.BasePath)
	assert.Contains(t, menuTitles(login.Menu), "Finance")
	assert.NotContains(t, menuTitles(login.Menu), "Dealers")

	res, body = srv.call(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, _ = srv.call(t, http.MethodGet, "/dealer/dashboard", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = srv.call(t, http.MethodPost, "/api/auth/refresh", "")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var refreshed SessionResponse
	require.NoError(t, json.Unmarshal(body, &refreshed))
	assert.Equal(t, "u-1", refreshed.Session.Principal.ID)

	res, _ = srv.call(t, http.MethodPost, "/api/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = srv.call(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = srv.call(t, http.MethodGet, "/dealer/dashboard?tab=debt", "")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login?redirect=%2Fdealer%2Fdashboard%3Ftab%3Ddebt", res.Header.Get("Location"))
}

func TestRefreshWithoutSession(t *testing.T) {
	srv := newTestServer(t)
	res, _ := srv.call(t, http.MethodPost, "/api/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
