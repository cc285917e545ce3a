package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avalb/internal/backend"
	"github.com/vyrodovalexey/avalb/internal/config"
	"github.com/vyrodovalexey/avalb/internal/proxy"
)

func newTestRegistry(t *testing.T, n int) *backend.Registry {
	t.Helper()

	hosts := make([]config.BackendHost, 0, n)
	for i := 0; i < n; i++ {
		hosts = append(hosts, config.BackendHost{Address: "10.0.0.1", Port: 8081 + i})
	}

	registry, err := backend.NewRegistry(hosts)
	require.NoError(t, err)
	return registry
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := NewHandler(newTestRegistry(t, 1), WithVersion("1.2.3"))

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusOK, status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.False(t, status.Timestamp.IsZero())
}

func TestReadyz_ReadyWithUnprobedHosts(t *testing.T) {
	t.Parallel()

	// Hosts that have not been probed yet still accept traffic.
	h := NewHandler(newTestRegistry(t, 2))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_NotReadyWhenAllUnhealthy(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, 2)
	for _, host := range registry.Hosts() {
		registry.MarkUnhealthy(host)
	}

	h := NewHandler(registry)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusNotReady, status.Status)
}

func TestReadyz_ReadyAgainAfterRecovery(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, 2)
	hosts := registry.Hosts()
	registry.MarkUnhealthy(hosts[0])
	registry.MarkUnhealthy(hosts[1])
	registry.MarkHealthy(hosts[1])

	h := NewHandler(registry)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpstreams(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, 2)
	hosts := registry.Hosts()
	registry.MarkHealthy(hosts[0])
	registry.MarkUnhealthy(hosts[1])

	h := NewHandler(registry)

	rec := httptest.NewRecorder()
	h.Upstreams(rec, httptest.NewRequest(http.MethodGet, "/status/upstreams", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []UpstreamStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)

	assert.Equal(t, hosts[0].Addr(), statuses[0].Address)
	assert.Equal(t, "healthy", statuses[0].Status)
	assert.Equal(t, "unhealthy", statuses[1].Status)
	assert.False(t, statuses[0].Suspect)
}

func TestUpstreams_ReportsSuspects(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, 1)
	registry.MarkHealthy(registry.Hosts()[0])

	suspects := proxy.NewSuspectTracker(proxy.WithSuspectThreshold(1))
	h := NewHandler(registry, WithSuspectTracker(suspects))

	rec := httptest.NewRecorder()
	h.Upstreams(rec, httptest.NewRequest(http.MethodGet, "/status/upstreams", nil))

	var statuses []UpstreamStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Suspect)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	NewHandler(newTestRegistry(t, 1)).Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/status/upstreams"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.NotEqual(t, http.StatusNotFound, rec.Code, "path %s should be registered", path)
	}
}
