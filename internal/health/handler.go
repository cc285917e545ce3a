// Package health exposes liveness, readiness and upstream status
// endpoints on the admin listener.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avalb/internal/backend"
	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/proxy"
)

// Status values reported by the endpoints.
const (
	StatusOK       = "ok"
	StatusNotReady = "not ready"
)

// HealthStatus is the body of the liveness and readiness responses.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime,omitempty"`
	Version   string    `json:"version,omitempty"`
}

// UpstreamStatus describes one backend host.
type UpstreamStatus struct {
	Address              string    `json:"address"`
	Status               string    `json:"status"`
	Suspect              bool      `json:"suspect,omitempty"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	LastChecked          time.Time `json:"lastChecked,omitempty"`
}

// Handler serves the admin health endpoints.
type Handler struct {
	registry  *backend.Registry
	suspects  *proxy.SuspectTracker
	logger    observability.Logger
	startTime time.Time
	version   string
}

// HandlerOption is a functional option for configuring the handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger observability.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithVersion sets the reported build version.
func WithVersion(version string) HandlerOption {
	return func(h *Handler) {
		h.version = version
	}
}

// WithSuspectTracker includes breaker state in the upstream status.
func WithSuspectTracker(t *proxy.SuspectTracker) HandlerOption {
	return func(h *Handler) {
		h.suspects = t
	}
}

// NewHandler creates a new health handler.
func NewHandler(registry *backend.Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry:  registry,
		logger:    observability.NopLogger(),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts the health endpoints on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)
	mux.HandleFunc("/status/upstreams", h.Upstreams)
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
	})
}

// Readyz reports whether at least one backend can accept traffic.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now(),
	}

	if !h.hasSelectableHost() {
		status.Status = StatusNotReady
		h.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// Upstreams reports per-host health and probe counters.
func (h *Handler) Upstreams(w http.ResponseWriter, r *http.Request) {
	hosts := h.registry.Hosts()
	statuses := make([]UpstreamStatus, 0, len(hosts))

	for _, host := range hosts {
		s := UpstreamStatus{
			Address:              host.Addr(),
			Status:               host.Status().String(),
			ConsecutiveFailures:  host.ConsecutiveFailures(),
			ConsecutiveSuccesses: host.ConsecutiveSuccesses(),
			LastChecked:          host.LastChecked(),
		}
		if h.suspects != nil {
			s.Suspect = !h.suspects.Eligible(host)
		}
		statuses = append(statuses, s)
	}

	h.writeJSON(w, http.StatusOK, statuses)
}

// hasSelectableHost reports whether any host may receive traffic. Hosts
// that have not been probed yet count as selectable.
func (h *Handler) hasSelectableHost() bool {
	for _, host := range h.registry.Hosts() {
		if host.Status() != backend.StatusUnhealthy {
			return true
		}
	}
	return false
}

// writeJSON writes a JSON response body.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode health response",
			observability.Error(err),
		)
	}
}
