package proxy

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avalb/internal/backend"
	"github.com/vyrodovalexey/avalb/internal/observability"
)

const (
	// DefaultSuspectThreshold is the number of consecutive forward
	// failures before a host is suspected.
	DefaultSuspectThreshold = 3

	// DefaultSuspectCooldown is how long a suspected host is skipped
	// before a trial request is allowed through again.
	DefaultSuspectCooldown = 10 * time.Second
)

// SuspectTracker keeps a circuit breaker per backend host. Forward
// failures trip the breaker and the dispatcher skips the host until the
// breaker lets a trial request through. This narrows the window in which
// a freshly dead host keeps receiving traffic between probe cycles; the
// health checker remains the authority on host status.
type SuspectTracker struct {
	threshold uint32
	cooldown  time.Duration
	logger    observability.Logger

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// SuspectOption is a functional option for configuring the tracker.
type SuspectOption func(*SuspectTracker)

// WithSuspectLogger sets the logger for the tracker.
func WithSuspectLogger(logger observability.Logger) SuspectOption {
	return func(t *SuspectTracker) {
		t.logger = logger
	}
}

// WithSuspectThreshold sets the consecutive failure count that suspects
// a host.
func WithSuspectThreshold(threshold int) SuspectOption {
	return func(t *SuspectTracker) {
		if threshold > 0 {
			t.threshold = uint32(threshold)
		}
	}
}

// WithSuspectCooldown sets how long a suspected host is skipped.
func WithSuspectCooldown(cooldown time.Duration) SuspectOption {
	return func(t *SuspectTracker) {
		if cooldown > 0 {
			t.cooldown = cooldown
		}
	}
}

// NewSuspectTracker creates a new suspect tracker.
func NewSuspectTracker(opts ...SuspectOption) *SuspectTracker {
	t := &SuspectTracker{
		threshold: DefaultSuspectThreshold,
		cooldown:  DefaultSuspectCooldown,
		logger:    observability.NopLogger(),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Eligible reports whether the host should receive traffic. A host with
// an open breaker is skipped.
func (t *SuspectTracker) Eligible(h *backend.Host) bool {
	t.mu.RLock()
	cb, ok := t.breakers[h.Addr()]
	t.mu.RUnlock()

	if !ok {
		return true
	}
	return cb.State() != gobreaker.StateOpen
}

// breakerFor returns the breaker for the given address, creating it on
// first use.
func (t *SuspectTracker) breakerFor(addr string) *gobreaker.CircuitBreaker {
	t.mu.RLock()
	cb, ok := t.breakers[addr]
	t.mu.RUnlock()
	if ok {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, ok = t.breakers[addr]; ok {
		return cb
	}

	threshold := t.threshold
	settings := gobreaker.Settings{
		Name:        addr,
		MaxRequests: 1,
		Timeout:     t.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			t.logger.Info("backend suspect state change",
				observability.String("host", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	t.breakers[addr] = cb
	return cb
}

// State returns the breaker state for the given address. Hosts without
// recorded traffic report a closed breaker.
func (t *SuspectTracker) State(addr string) gobreaker.State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cb, ok := t.breakers[addr]
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
