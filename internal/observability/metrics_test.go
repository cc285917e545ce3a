package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_req")

	m.RecordRequest(http.MethodGet, http.StatusOK, 25*time.Millisecond)
	m.RecordRequest(http.MethodGet, http.StatusOK, 30*time.Millisecond)
	m.RecordRequest(http.MethodPost, http.StatusBadGateway, 5*time.Millisecond)

	count := testutil.CollectAndCount(m.requestsTotal)
	assert.Equal(t, 2, count, "one series per method/status pair")

	value := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "200"))
	assert.Equal(t, 2.0, value)
}

func TestMetrics_SetBackendHealth(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_health")

	m.SetBackendHealth("10.0.0.1:8080", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendHealth.WithLabelValues("10.0.0.1:8080")))

	m.SetBackendHealth("10.0.0.1:8080", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.backendHealth.WithLabelValues("10.0.0.1:8080")))
}

func TestMetrics_RecordRateLimitHit(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_rl")

	m.RecordRateLimitHit("global")
	m.RecordRateLimitHit("global")
	m.RecordRateLimitHit("client")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rateLimitHits.WithLabelValues("global")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitHits.WithLabelValues("client")))
}

func TestMetrics_RecordUpstreamFailure(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_upstream")

	m.RecordUpstreamFailure("10.0.0.1:8080", "timeout")
	m.RecordUpstreamFailure("10.0.0.1:8080", "connection")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamFailures.WithLabelValues("10.0.0.1:8080", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamFailures.WithLabelValues("10.0.0.1:8080", "connection")))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_handler")
	m.SetBuildInfo("1.0.0", "abc123", "2026-01-01")
	m.RecordRequest(http.MethodGet, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "test_handler_requests_total"))
	assert.True(t, strings.Contains(body, "test_handler_build_info"))
	assert.True(t, strings.Contains(body, "test_handler_start_time_seconds"))
}

func TestNewMetrics_EmptyNamespaceDefaults(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	m.RecordRequest(http.MethodGet, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Contains(t, rec.Body.String(), "avalb_requests_total")
}
