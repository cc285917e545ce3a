package backend

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/avalb/internal/config"
	"github.com/vyrodovalexey/avalb/internal/observability"
)

// StatusChangeFunc is called when a host's health status changes.
type StatusChangeFunc func(host *Host, healthy bool)

// Health check default configuration constants.
const (
	// DefaultProbeTimeout is the default timeout for probe requests.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultProbeInterval is the default interval between check cycles.
	DefaultProbeInterval = 20 * time.Second

	// DefaultHealthyThreshold is the default number of consecutive
	// successes required to mark a host as healthy.
	DefaultHealthyThreshold = 2

	// DefaultUnhealthyThreshold is the default number of consecutive
	// failures required to mark a host as unhealthy. A single failed
	// probe takes the host out of rotation.
	DefaultUnhealthyThreshold = 1
)

// HealthChecker periodically probes every registered host and updates
// its status in the registry. Probes within a cycle run concurrently
// and the cycle joins before the next tick is honored, so one slow
// host never delays probing of the others.
type HealthChecker struct {
	registry           *Registry
	config             config.HealthCheckConfig
	client             *http.Client
	logger             observability.Logger
	metrics            *observability.Metrics
	onStatusChange     StatusChangeFunc
	healthyThreshold   int
	unhealthyThreshold int
	stopCh             chan struct{}
	stoppedCh          chan struct{}
	running            bool
	mu                 sync.Mutex
}

// HealthCheckOption is a functional option for configuring the health checker.
type HealthCheckOption func(*HealthChecker)

// WithHealthCheckLogger sets the logger for the health checker.
func WithHealthCheckLogger(logger observability.Logger) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.logger = logger
	}
}

// WithHealthCheckClient sets the HTTP client used for probes.
func WithHealthCheckClient(client *http.Client) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.client = client
	}
}

// WithHealthCheckMetrics sets the metrics sink for probe results.
func WithHealthCheckMetrics(metrics *observability.Metrics) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.metrics = metrics
	}
}

// WithStatusChangeCallback sets a callback for host status changes.
func WithStatusChangeCallback(fn StatusChangeFunc) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.onStatusChange = fn
	}
}

// NewHealthChecker creates a new health checker for the registry.
func NewHealthChecker(registry *Registry, cfg config.HealthCheckConfig, opts ...HealthCheckOption) *HealthChecker {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}

	hc := &HealthChecker{
		registry: registry,
		config:   cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		logger:             observability.NopLogger(),
		healthyThreshold:   cfg.HealthyThreshold,
		unhealthyThreshold: cfg.UnhealthyThreshold,
		stopCh:             make(chan struct{}),
		stoppedCh:          make(chan struct{}),
	}

	if hc.healthyThreshold == 0 {
		hc.healthyThreshold = DefaultHealthyThreshold
	}
	if hc.unhealthyThreshold == 0 {
		hc.unhealthyThreshold = DefaultUnhealthyThreshold
	}

	for _, opt := range opts {
		opt(hc)
	}

	return hc
}

// Start starts the health checker loop.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.mu.Unlock()

	go hc.run(ctx)
}

// Stop stops the health checker and waits for the loop to exit.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	hc.mu.Unlock()

	close(hc.stopCh)
	<-hc.stoppedCh
}

// IsRunning returns true if the health checker is running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.running
}

// run is the main health check loop.
func (hc *HealthChecker) run(ctx context.Context) {
	defer close(hc.stoppedCh)

	interval := hc.config.Interval.Duration()
	if interval == 0 {
		interval = DefaultProbeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Probe immediately on startup so traffic does not wait a full
	// interval for the first health verdict.
	hc.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.CheckAll(ctx)
		}
	}
}

// CheckAll probes every host concurrently and joins before returning.
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, host := range hc.registry.Hosts() {
		wg.Add(1)
		go func(h *Host) {
			defer wg.Done()
			hc.checkHost(ctx, h)
		}(host)
	}

	wg.Wait()
}

// checkHost probes a single host and records the result.
func (hc *HealthChecker) checkHost(ctx context.Context, host *Host) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	url := host.URL() + hc.config.Path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		hc.recordFailure(host, err, 0)
		return
	}

	probeStart := time.Now()
	resp, err := hc.client.Do(req)
	probeDuration := time.Since(probeStart)

	if err != nil {
		hc.recordFailure(host, err, probeDuration)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK &&
		resp.StatusCode < http.StatusMultipleChoices {
		hc.recordSuccess(host, probeDuration)
	} else {
		hc.recordFailure(host, nil, probeDuration)
	}
}

// recordSuccess records a successful probe and promotes the host once
// the healthy threshold is reached.
func (hc *HealthChecker) recordSuccess(host *Host, duration time.Duration) {
	successes := host.recordProbe(true, time.Now())

	if hc.metrics != nil {
		hc.metrics.RecordHealthCheck(host.Addr(), "success", duration)
	}

	if int(successes) < hc.healthyThreshold {
		return
	}

	if hc.registry.MarkHealthy(host) {
		hc.logger.Info("host became healthy",
			observability.String("host", host.Addr()),
		)
		hc.notifyStatusChange(host, true)
	}
}

// recordFailure records a failed probe and demotes the host once the
// unhealthy threshold is reached.
func (hc *HealthChecker) recordFailure(host *Host, err error, duration time.Duration) {
	failures := host.recordProbe(false, time.Now())

	if hc.metrics != nil {
		hc.metrics.RecordHealthCheck(host.Addr(), "failure", duration)
	}

	if int(failures) < hc.unhealthyThreshold {
		return
	}

	if hc.registry.MarkUnhealthy(host) {
		hc.logger.Warn("host became unhealthy",
			observability.String("host", host.Addr()),
			observability.Error(err),
		)
		hc.notifyStatusChange(host, false)
	}
}

// notifyStatusChange updates the health gauge and invokes the
// status-change callback.
func (hc *HealthChecker) notifyStatusChange(host *Host, healthy bool) {
	if hc.metrics != nil {
		hc.metrics.SetBackendHealth(host.Addr(), healthy)
	}
	if hc.onStatusChange != nil {
		hc.onStatusChange(host, healthy)
	}
}
