// Package backend provides upstream host management for the load
// balancer.
//
// The package owns three tightly related pieces:
//
//   - Registry: the fixed, ordered set of upstream hosts with their
//     health state and the round-robin rotation cursor. Selection via
//     Next skips unhealthy hosts and cycles evenly over the healthy
//     ones.
//   - HealthChecker: a background loop that probes every host
//     concurrently on a fixed interval and flips health state through
//     the registry's mark operations, debounced by consecutive
//     success/failure thresholds.
//   - ConnectionPool: the shared HTTP transport used to forward
//     requests to the hosts.
//
// Host health is mutated only by the health checker through the
// registry; the dispatcher reads it on every request.
package backend
