package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlsnd/helpscout-automation/internal/admin"
	"github.com/optlsnd/helpscout-automation/internal/observability/metrics"
	"github.com/optlsnd/helpscout-automation/internal/schedule"
	"github.com/optlsnd/helpscout-automation/internal/signature"
	"github.com/optlsnd/helpscout-automation/internal/webhook"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

const (
	hsSecret    = "hs-secret"
	adminSecret = "admin-secret"
)

func newTestRouter(t *testing.T) (http.Handler, *schedule.MemoryStore) {
	t.Helper()

	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	store := schedule.NewMemoryStore()

	cfg := &Config{
		Logger:          logger,
		Webhook:         webhook.NewHandler(webhook.Config{Secret: hsSecret, RequireSignature: true}, store, metrics.NewWebhookMetrics(reg), logger),
		Admin:           admin.NewHandler(store, reg, logger),
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAuthSecret: adminSecret,
	}
	return New(cfg), store
}

func adminToken(t *testing.T) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestRouterWebhookToAdminFlow(t *testing.T) {
	router, store := newTestRouter(t)

	body := `{"id":42,"preview":"#REOPEN@2030-01-01","status":"closed"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(signature.Header, signature.Sign(hsSecret, []byte(body)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), got.DueAt)

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"42"`)

	req = httptest.NewRequest(http.MethodDelete, "/api/tasks/42", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	_, err = store.Get(context.Background(), "42")
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestRouterWebhookMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/api/tasks", "/api/tasks/view", "/api/stats"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/delete/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"id":"1","preview":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(signature.Header, signature.Sign(hsSecret, []byte(body)))
	router.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `helpscout_webhook_requests_total{outcome="ignored"} 1`)
}
