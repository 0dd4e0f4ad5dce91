package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlsnd/helpscout-automation/internal/observability/metrics"
)

func TestSetupMetricsExposesMetrics(t *testing.T) {
	reg, handler := setupMetrics()
	require.NotNil(t, reg)
	require.NotNil(t, handler)

	m := metrics.NewWebhookMetrics(reg)
	m.ObserveRequest("scheduled", 0.01)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `helpscout_webhook_requests_total{outcome="scheduled"} 1`)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
