package quotations

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/rbac"
)

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

func TestHandlerLifecycle(t *testing.T) {
	f := newFixture()
	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)

	body := `{"customer_id":"c-1","vehicle_id":"v-1","variant_id":"var-1","color_id":"col-1","dealer_id":"d-1",
		"price":{"base_price":1000,"variant_price":-50,"color_price":20,"fees":30,"dealer_discount":100,"promotion_discount":0},
		"valid_until":"` + t0.Add(time.Hour).Format(time.RFC3339) + `"}`
	rec := do(t, r, &staff, http.MethodPost, "/quotations", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.EqualValues(t, 900, created.FinalPrice.Amount)

	assert.Equal(t, http.StatusForbidden, do(t, r, &customer, http.MethodPost, "/quotations", body).Code)

	rec = do(t, r, &staff, http.MethodPost, "/quotations/"+created.ID+"/transition", `{"expected":"draft","next":"sent"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.clock.Advance(2 * time.Hour)
	rec = do(t, r, &customer, http.MethodPost, "/quotations/"+created.ID+"/transition", `{"expected":"sent","next":"accepted"}`)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = do(t, r, &customer, http.MethodGet, "/quotations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var shown View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shown))
	assert.Equal(t, lifecycle.QuotationExpired, shown.Status)
}

func TestHandlerRejectsNegativeDiscount(t *testing.T) {
	f := newFixture()
	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)

	body := `{"customer_id":"c-1","vehicle_id":"v-1","variant_id":"var-1","color_id":"col-1","dealer_id":"d-1",
		"price":{"base_price":1000,"dealer_discount":-5},"valid_until":"` + t0.Add(time.Hour).Format(time.RFC3339) + `"}`
	rec := do(t, r, &staff, http.MethodPost, "/quotations", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "dealer_discount")
}
