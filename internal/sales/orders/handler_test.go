package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/rbac"
)

func newRouter(f fixture) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, actor *rbac.Principal, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != nil {
		req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndApprove(t *testing.T) {
	f := newFixture(t, 1000)
	h := newRouter(f)

	rec := do(t, h, &manager, http.MethodPost, "/orders",
		`{"customer_id":"c-1","vehicle_id":"v-1","dealer_id":"d-1","total_amount":400,"payment_method":"cash"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, lifecycle.OrderPending, created.Status)

	rec = do(t, h, &manager, http.MethodPost, "/orders/"+created.ID+"/transition",
		`{"expected":"pending","next":"approved"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	assert.Equal(t, lifecycle.OrderApproved, approved.Status)

	rec = do(t, h, &manager, http.MethodPost, "/orders/"+created.ID+"/transition",
		`{"expected":"pending","next":"approved"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerDebtLimitIs422(t *testing.T) {
	f := newFixture(t, 100)
	o := f.place(t, 400)
	rec := do(t, newRouter(f), &manager, http.MethodPost, "/orders/"+o.ID+"/transition",
		`{"expected":"pending","next":"approved"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerValidation(t *testing.T) {
	f := newFixture(t, 1000)
	rec := do(t, newRouter(f), &manager, http.MethodPost, "/orders",
		`{"customer_id":"c-1","dealer_id":"d-1","total_amount":0,"payment_method":"card"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "vehicle_id")
}

func TestHandlerPermissions(t *testing.T) {
	f := newFixture(t, 1000)
	o := f.place(t, 100)
	h := newRouter(f)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, nil, http.MethodGet, "/orders/"+o.ID, "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, &customer, http.MethodPost, "/orders/"+o.ID+"/transition",
		`{"expected":"pending","next":"approved"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, &outsider, http.MethodGet, "/orders/"+o.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, &admin, http.MethodGet, "/orders/missing", "").Code)

	rec := do(t, h, &customer, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Orders []View `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Orders, 1)
}
