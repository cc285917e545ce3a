// Package proxy dispatches incoming requests across healthy backends.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avalb/internal/backend"
	"github.com/vyrodovalexey/avalb/internal/observability"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Dispatcher forwards requests to backends in round robin order.
type Dispatcher struct {
	registry      *backend.Registry
	logger        observability.Logger
	metrics       *observability.Metrics
	transport     http.RoundTripper
	suspects      *SuspectTracker
	timeout       time.Duration
	flushInterval time.Duration
}

// DispatcherOption is a functional option for configuring the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics collector for the dispatcher.
func WithDispatcherMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithDispatcherTransport sets the transport used for upstream requests.
func WithDispatcherTransport(transport http.RoundTripper) DispatcherOption {
	return func(d *Dispatcher) {
		d.transport = transport
	}
}

// WithUpstreamTimeout bounds a single upstream forward.
func WithUpstreamTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithSuspectTracker enables skipping hosts with repeated forward
// failures.
func WithSuspectTracker(t *SuspectTracker) DispatcherOption {
	return func(d *Dispatcher) {
		d.suspects = t
	}
}

// WithDispatcherFlushInterval sets the flush interval for streaming
// responses.
func WithDispatcherFlushInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.flushInterval = interval
	}
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(registry *backend.Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:      registry,
		logger:        observability.NopLogger(),
		flushInterval: -1, // Immediate flush
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host, err := d.selectHost()
	if err != nil {
		d.handleNoHealthyHost(w, r, err)
		return
	}

	d.forward(w, r, host)
}

// selectHost picks the next backend. Suspected hosts are skipped when a
// tracker is configured; if every healthy host is suspected the plain
// rotation is used so traffic keeps flowing.
func (d *Dispatcher) selectHost() (*backend.Host, error) {
	if d.suspects != nil {
		host, err := d.registry.NextEligible(d.suspects.Eligible)
		if err == nil {
			return host, nil
		}
	}

	host, err := d.registry.Next()
	if err != nil {
		return nil, NewDispatchError("select_host", "", "no backend available", ErrNoHealthyHost)
	}
	return host, nil
}

// forward proxies the request to the selected backend.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, host *backend.Host) {
	target, err := url.Parse(host.URL())
	if err != nil {
		d.handleForwardError(w, r, host, NewDispatchError("parse_target", host.Addr(), "invalid target URL", err))
		return
	}

	var forwardErr error
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			d.director(req, target, r)
		},
		Transport:     d.transport,
		FlushInterval: d.flushInterval,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			forwardErr = err
			d.handleForwardError(w, r, host, err)
		},
	}

	if d.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	if d.suspects == nil {
		proxy.ServeHTTP(w, r)
		return
	}

	_, err = d.suspects.breakerFor(host.Addr()).Execute(func() (interface{}, error) {
		proxy.ServeHTTP(w, r)
		return nil, forwardErr
	})

	// The breaker can open between host selection and execution. Nothing
	// has been written yet in that case.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		d.handleNoHealthyHost(w, r, NewDispatchError("forward", host.Addr(), "host suspected", ErrUpstreamUnavailable))
	}
}

// director modifies the request before forwarding.
func (d *Dispatcher) director(req *http.Request, target *url.URL, originalReq *http.Request) {
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host

	// Remove hop-by-hop headers
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	// Set X-Forwarded headers
	if clientIP, _, err := net.SplitHostPort(originalReq.RemoteAddr); err == nil {
		if prior := originalReq.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}

	if originalReq.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}

	req.Header.Set("X-Forwarded-Host", originalReq.Host)

	// Set Host header
	req.Host = target.Host
}

// handleNoHealthyHost writes the response for an empty backend rotation.
func (d *Dispatcher) handleNoHealthyHost(w http.ResponseWriter, r *http.Request, err error) {
	d.logger.Warn("no healthy host available",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, `{"error":"service unavailable","message":"no healthy backend available"}`)
}

// handleForwardError writes the response for a failed upstream forward.
func (d *Dispatcher) handleForwardError(w http.ResponseWriter, r *http.Request, host *backend.Host, err error) {
	status, reason := classifyForwardError(err)

	d.logger.Error("upstream forward failed",
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.String("host", host.Addr()),
		observability.String("reason", reason),
		observability.Error(err),
	)

	if d.metrics != nil {
		d.metrics.RecordUpstreamFailure(host.Addr(), reason)
	}

	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusGatewayTimeout {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":"gateway timeout","message":"upstream request timed out"}`)
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":"bad gateway","message":"failed to reach upstream"}`)
}

// classifyForwardError maps a forward error to a response status and a
// metric reason label.
func classifyForwardError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUpstreamTimeout) {
		return http.StatusGatewayTimeout, "timeout"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, "timeout"
	}

	return http.StatusBadGateway, "connection"
}
