// Package backend provides the upstream registry and health tracking
// for the load balancer.
package backend

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avalb/internal/config"
)

// Status represents the health status of a host.
type Status int32

const (
	// StatusUnknown indicates the host has not been probed yet.
	StatusUnknown Status = iota
	// StatusHealthy indicates the host is healthy.
	StatusHealthy
	// StatusUnhealthy indicates the host is unhealthy.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ErrNoHealthyHost is returned by Registry.Next when every host is
// unhealthy.
var ErrNoHealthyHost = errors.New("no healthy host available")

// Host represents a single upstream server. Health state is mutated
// only through the Registry API; callers read it via Status.
type Host struct {
	Address string
	Port    int

	status               atomic.Int32
	consecutiveFailures  atomic.Int32
	consecutiveSuccesses atomic.Int32
	lastChecked          atomic.Int64
}

// NewHost creates a new host.
func NewHost(address string, port int) *Host {
	h := &Host{
		Address: address,
		Port:    port,
	}
	h.status.Store(int32(StatusUnknown))
	return h
}

// Addr returns the host address in host:port form.
func (h *Host) Addr() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// URL returns the host URL (HTTP).
func (h *Host) URL() string {
	return "http://" + h.Addr()
}

// Status returns the host status.
func (h *Host) Status() Status {
	return Status(h.status.Load())
}

// ConsecutiveFailures returns the consecutive failed probe count.
func (h *Host) ConsecutiveFailures() int {
	return int(h.consecutiveFailures.Load())
}

// ConsecutiveSuccesses returns the consecutive successful probe count.
func (h *Host) ConsecutiveSuccesses() int {
	return int(h.consecutiveSuccesses.Load())
}

// LastChecked returns the time of the last probe, or the zero time if
// the host has never been probed.
func (h *Host) LastChecked() time.Time {
	nanos := h.lastChecked.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Registry holds the fixed, ordered set of upstream hosts and the
// round-robin rotation cursor. The host sequence is immutable after
// construction; only health state and the cursor change at runtime.
type Registry struct {
	hosts  []*Host
	cursor atomic.Uint64
}

// NewRegistry creates a registry from a static host list.
func NewRegistry(backends []config.BackendHost) (*Registry, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}

	hosts := make([]*Host, 0, len(backends))
	for _, b := range backends {
		hosts = append(hosts, NewHost(b.Address, b.Port))
	}

	return &Registry{hosts: hosts}, nil
}

// Hosts returns all hosts in registration order.
func (r *Registry) Hosts() []*Host {
	hosts := make([]*Host, len(r.hosts))
	copy(hosts, r.hosts)
	return hosts
}

// Healthy returns the hosts that are currently healthy, in
// registration order. Hosts that have not been probed yet count as
// healthy so that traffic flows before the first check cycle
// completes.
func (r *Registry) Healthy() []*Host {
	healthy := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		if selectable(h.Status()) {
			healthy = append(healthy, h)
		}
	}
	return healthy
}

// Len returns the number of registered hosts.
func (r *Registry) Len() int {
	return len(r.hosts)
}

// Next returns the next host under round-robin rotation, skipping
// unhealthy hosts. Rotation cycles over the ordered set of healthy
// hosts, so the survivors keep receiving traffic in round-robin order
// when a host drops out.
func (r *Registry) Next() (*Host, error) {
	return r.NextEligible(nil)
}

// NextEligible behaves like Next but additionally skips hosts the
// eligible predicate rejects. A nil predicate accepts every host.
func (r *Registry) NextEligible(eligible func(*Host) bool) (*Host, error) {
	candidates := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		if !selectable(h.Status()) {
			continue
		}
		if eligible != nil && !eligible(h) {
			continue
		}
		candidates = append(candidates, h)
	}

	if len(candidates) == 0 {
		return nil, ErrNoHealthyHost
	}

	idx := r.cursor.Add(1) - 1
	return candidates[idx%uint64(len(candidates))], nil
}

// MarkHealthy transitions a host to Healthy. The transition is
// idempotent and resets the consecutive-failure count. It reports
// whether the status actually changed.
func (r *Registry) MarkHealthy(h *Host) bool {
	h.consecutiveFailures.Store(0)
	return h.status.Swap(int32(StatusHealthy)) != int32(StatusHealthy)
}

// MarkUnhealthy transitions a host to Unhealthy. The transition is
// idempotent and resets the consecutive-success count. It reports
// whether the status actually changed.
func (r *Registry) MarkUnhealthy(h *Host) bool {
	h.consecutiveSuccesses.Store(0)
	return h.status.Swap(int32(StatusUnhealthy)) != int32(StatusUnhealthy)
}

// recordProbe updates a host's probe bookkeeping and returns the new
// consecutive count for the probe outcome.
func (h *Host) recordProbe(success bool, at time.Time) int32 {
	h.lastChecked.Store(at.UnixNano())
	if success {
		h.consecutiveFailures.Store(0)
		return h.consecutiveSuccesses.Add(1)
	}
	h.consecutiveSuccesses.Store(0)
	return h.consecutiveFailures.Add(1)
}

// selectable reports whether a host in the given status may receive
// traffic.
func selectable(s Status) bool {
	return s == StatusHealthy || s == StatusUnknown
}
