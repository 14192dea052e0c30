package rbac

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCookie = "auth_token"

func guardedHandler(t *testing.T, sessions map[string]Principal) http.Handler {
	t.Helper()
	table := testTable(t)
	lookup := func(r *http.Request) (Principal, bool) {
		c, err := r.Cookie(testCookie)
		if err != nil {
			return Principal{}, false
		}
		p, ok := sessions[c.Value]
		return p, ok
	}
	guard := Guard(GuardConfig{
		Table:      table,
		Lookup:     lookup,
		CookieName: testCookie,
		LoginPath:  "/login",
		LoginOnly:  []string{"/login"},
	})
	return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		w.Header().Set("X-Principal", p.ID)
		w.WriteHeader(http.StatusNoContent)
	}))
}

func serve(h http.Handler, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	h := guardedHandler(t, nil)
	rec := serve(h, "/cms/users?tab=2", "")
	require.Equal(t, http.StatusSeeOther, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "/cms/users?tab=2", loc.Query().Get("redirect"))
}

func TestGuardRejectsAnonymousAPIRequest(t *testing.T) {
	h := guardedHandler(t, nil)
	rec := serve(h, "/api/orders/1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestGuardClearsStaleCookie(t *testing.T) {
	h := guardedHandler(t, map[string]Principal{})
	rec := serve(h, "/cms", "stale-token")
	require.Equal(t, http.StatusSeeOther, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, testCookie, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestGuardAllowsPermittedRole(t *testing.T) {
	h := guardedHandler(t, map[string]Principal{"t1": {ID: "u-1", Role: RoleAdmin}})
	rec := serve(h, "/cms/users/9", "t1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-1", rec.Header().Get("X-Principal"))
}

func TestGuardForbidsOtherNamespace(t *testing.T) {
	h := guardedHandler(t, map[string]Principal{"t1": {ID: "u-2", Role: RoleDealerStaff}})
	assert.Equal(t, http.StatusForbidden, serve(h, "/cms", "t1").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "/dealer/debt", "t1").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "/not-in-table", "t1").Code)
	assert.Equal(t, http.StatusNoContent, serve(h, "/dealer/orders", "t1").Code)
}

func TestGuardRedirectsLoginOnlyPathWithSession(t *testing.T) {
	h := guardedHandler(t, map[string]Principal{"t1": {ID: "u-3", Role: RoleDealerManager}})
	rec := serve(h, "/login", "t1")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dealer/dashboard", rec.Header().Get("Location"))

	anon := serve(h, "/login", "")
	assert.Equal(t, http.StatusNoContent, anon.Code)
}

func TestRequirePermissions(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	run := func(mw func(http.Handler) http.Handler, p *Principal) int {
		req := httptest.NewRequest(http.MethodPost, "/api/orders/1/transition", nil)
		if p != nil {
			req = req.WithContext(ContextWithPrincipal(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		mw(ok).ServeHTTP(rec, req)
		return rec.Code
	}

	manager := &Principal{ID: "m", Role: RoleDealerManager}
	customer := &Principal{ID: "c", Role: RoleCustomer}

	assert.Equal(t, http.StatusOK, run(RequireAny(PermOrderAdvance, PermOrderCancel), manager))
	assert.Equal(t, http.StatusForbidden, run(RequireAny(PermOrderAdvance, PermOrderCancel), customer))
	assert.Equal(t, http.StatusOK, run(RequireAll(PermOrderView, PermQuotationRespond), customer))
	assert.Equal(t, http.StatusForbidden, run(RequireAll(PermOrderView, PermLedgerCharge), manager))
	assert.Equal(t, http.StatusUnauthorized, run(RequireAny(PermOrderView), nil))
}
