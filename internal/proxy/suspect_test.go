package proxy

import (
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avalb/internal/backend"
	"github.com/vyrodovalexey/avalb/internal/config"
)

func suspectTestHost(t *testing.T) *backend.Host {
	t.Helper()

	registry, err := backend.NewRegistry([]config.BackendHost{
		{Address: "10.0.0.1", Port: 8080},
	})
	require.NoError(t, err)
	return registry.Hosts()[0]
}

func recordFailures(tr *SuspectTracker, addr string, n int) {
	for i := 0; i < n; i++ {
		_, _ = tr.breakerFor(addr).Execute(func() (interface{}, error) {
			return nil, ErrUpstreamUnavailable
		})
	}
}

func TestSuspectTracker_EligibleByDefault(t *testing.T) {
	t.Parallel()

	tr := NewSuspectTracker()
	host := suspectTestHost(t)

	assert.True(t, tr.Eligible(host))
	assert.Equal(t, gobreaker.StateClosed, tr.State(host.Addr()))
}

func TestSuspectTracker_TripsAfterThreshold(t *testing.T) {
	t.Parallel()

	tr := NewSuspectTracker(WithSuspectThreshold(3), WithSuspectCooldown(time.Hour))
	host := suspectTestHost(t)

	recordFailures(tr, host.Addr(), 2)
	assert.True(t, tr.Eligible(host), "below the threshold the host stays eligible")

	recordFailures(tr, host.Addr(), 1)
	assert.False(t, tr.Eligible(host))
	assert.Equal(t, gobreaker.StateOpen, tr.State(host.Addr()))
}

func TestSuspectTracker_SuccessResetsStreak(t *testing.T) {
	t.Parallel()

	tr := NewSuspectTracker(WithSuspectThreshold(3), WithSuspectCooldown(time.Hour))
	host := suspectTestHost(t)

	recordFailures(tr, host.Addr(), 2)
	_, err := tr.breakerFor(host.Addr()).Execute(func() (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)

	recordFailures(tr, host.Addr(), 2)
	assert.True(t, tr.Eligible(host), "a success in between keeps the breaker closed")
}

func TestSuspectTracker_RecoversAfterCooldown(t *testing.T) {
	t.Parallel()

	tr := NewSuspectTracker(WithSuspectThreshold(1), WithSuspectCooldown(20*time.Millisecond))
	host := suspectTestHost(t)

	recordFailures(tr, host.Addr(), 1)
	require.False(t, tr.Eligible(host))

	time.Sleep(50 * time.Millisecond)

	// Half-open lets a probe request through.
	assert.True(t, tr.Eligible(host))

	_, err := tr.breakerFor(host.Addr()).Execute(func() (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, tr.State(host.Addr()))
}

func TestSuspectTracker_HostsAreIndependent(t *testing.T) {
	t.Parallel()

	tr := NewSuspectTracker(WithSuspectThreshold(1), WithSuspectCooldown(time.Hour))

	registry, err := backend.NewRegistry([]config.BackendHost{
		{Address: "10.0.0.1", Port: 8080},
		{Address: "10.0.0.2", Port: 8080},
	})
	require.NoError(t, err)
	hosts := registry.Hosts()

	recordFailures(tr, hosts[0].Addr(), 1)

	assert.False(t, tr.Eligible(hosts[0]))
	assert.True(t, tr.Eligible(hosts[1]))
}
