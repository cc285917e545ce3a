package config

import (
	"fmt"
	"net"
	"strconv"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := validatePort(c.Listen.Port, "listen"); err != nil {
		return err
	}

	if c.Admin.Enabled {
		if err := validatePort(c.Admin.Port, "admin"); err != nil {
			return err
		}
		if c.Admin.Port == c.Listen.Port {
			return fmt.Errorf("admin port %d conflicts with listen port", c.Admin.Port)
		}
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for i, b := range c.Backends {
		if b.Address == "" {
			return fmt.Errorf("backend %d: address is required", i)
		}
		if err := validatePort(b.Port, fmt.Sprintf("backend %d", i)); err != nil {
			return err
		}
		addr := net.JoinHostPort(b.Address, strconv.Itoa(b.Port))
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("backend %d: duplicate address %s", i, addr)
		}
		seen[addr] = struct{}{}
	}

	if err := c.RateLimit.validate(); err != nil {
		return err
	}

	return c.HealthCheck.validate()
}

// validate checks the rate limit configuration.
func (r *RateLimitConfig) validate() error {
	if !r.Enabled {
		return nil
	}

	switch r.Algorithm {
	case "", RateLimitFixedWindow, RateLimitTokenBucket:
	default:
		return fmt.Errorf("unknown rate limit algorithm: %s", r.Algorithm)
	}

	if r.Requests <= 0 {
		return fmt.Errorf("rate limit requests must be positive, got %d", r.Requests)
	}
	if r.Window.Duration() <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", r.Window)
	}

	switch r.Store {
	case "", RateLimitStoreMemory:
	case RateLimitStoreRedis:
		if r.RedisAddress == "" {
			return fmt.Errorf("redis address is required for redis rate limit store")
		}
	default:
		return fmt.Errorf("unknown rate limit store: %s", r.Store)
	}

	return nil
}

// validate checks the health check configuration.
func (h *HealthCheckConfig) validate() error {
	if h.Interval.Duration() < 0 {
		return fmt.Errorf("health check interval must not be negative")
	}
	if h.Timeout.Duration() < 0 {
		return fmt.Errorf("health check timeout must not be negative")
	}
	if h.HealthyThreshold < 0 || h.UnhealthyThreshold < 0 {
		return fmt.Errorf("health check thresholds must not be negative")
	}
	return nil
}

// validatePort checks that a port is in the valid range.
func validatePort(port int, name string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
