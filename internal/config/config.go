// Package config provides configuration management for the load balancer.
// Configuration is loaded from a YAML file with environment variable
// overrides (AVALB_* variables take precedence over file values).
package config

import "time"

// Config holds all configuration for the load balancer.
type Config struct {
	// Listen is the main traffic listener.
	Listen ListenConfig `json:"listen" yaml:"listen"`

	// Admin is the administrative listener (health, status, metrics).
	Admin AdminConfig `json:"admin" yaml:"admin"`

	// Backends is the static set of upstream hosts.
	Backends []BackendHost `json:"backends" yaml:"backends"`

	// RateLimit configures request admission.
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`

	// HealthCheck configures upstream probing.
	HealthCheck HealthCheckConfig `json:"healthCheck" yaml:"healthCheck"`

	// Upstream configures request forwarding.
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`

	// Log configures logging output.
	Log LogConfig `json:"log" yaml:"log"`
}

// ListenConfig holds traffic listener settings.
type ListenConfig struct {
	Address         string   `json:"address" yaml:"address"`
	Port            int      `json:"port" yaml:"port"`
	ReadTimeout     Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    Duration `json:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout     Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// AdminConfig holds admin listener settings.
type AdminConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Address     string `json:"address" yaml:"address"`
	Port        int    `json:"port" yaml:"port"`
	MetricsPath string `json:"metricsPath" yaml:"metricsPath"`
}

// BackendHost identifies one upstream server.
type BackendHost struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Algorithm selects the accounting strategy:
	// fixed_window or token_bucket.
	Algorithm string `json:"algorithm" yaml:"algorithm"`

	// Requests is the quota per window.
	Requests int `json:"requests" yaml:"requests"`

	// Window is the accounting interval.
	Window Duration `json:"window" yaml:"window"`

	// PerClient partitions the quota by client IP instead of
	// applying one global quota.
	PerClient bool `json:"perClient" yaml:"perClient"`

	// Store selects the counter backend: memory or redis.
	Store string `json:"store" yaml:"store"`

	// Redis settings, used when Store is "redis".
	RedisAddress  string `json:"redisAddress" yaml:"redisAddress"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB"`
}

// HealthCheckConfig holds health check settings.
type HealthCheckConfig struct {
	Path               string   `json:"path" yaml:"path"`
	Interval           Duration `json:"interval" yaml:"interval"`
	Timeout            Duration `json:"timeout" yaml:"timeout"`
	HealthyThreshold   int      `json:"healthyThreshold" yaml:"healthyThreshold"`
	UnhealthyThreshold int      `json:"unhealthyThreshold" yaml:"unhealthyThreshold"`
}

// UpstreamConfig holds forwarding settings.
type UpstreamConfig struct {
	// Timeout bounds a single upstream forward.
	Timeout Duration `json:"timeout" yaml:"timeout"`

	// SuspectFailedHosts enables the per-host breaker that skips a
	// host after repeated forward failures until the health checker
	// catches up.
	SuspectFailedHosts bool `json:"suspectFailedHosts" yaml:"suspectFailedHosts"`

	// Connection pool settings.
	MaxIdleConns        int      `json:"maxIdleConns" yaml:"maxIdleConns"`
	MaxIdleConnsPerHost int      `json:"maxIdleConnsPerHost" yaml:"maxIdleConnsPerHost"`
	MaxConnsPerHost     int      `json:"maxConnsPerHost" yaml:"maxConnsPerHost"`
	IdleConnTimeout     Duration `json:"idleConnTimeout" yaml:"idleConnTimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// Rate limit algorithm names.
const (
	RateLimitFixedWindow = "fixed_window"
	RateLimitTokenBucket = "token_bucket"
)

// Rate limit store names.
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Address:         "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Admin: AdminConfig{
			Enabled:     true,
			Address:     "0.0.0.0",
			Port:        9090,
			MetricsPath: "/metrics",
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			Algorithm: RateLimitFixedWindow,
			Requests:  100,
			Window:    Duration(time.Minute),
			PerClient: false,
			Store:     RateLimitStoreMemory,
		},
		HealthCheck: HealthCheckConfig{
			Path:               "/",
			Interval:           Duration(20 * time.Second),
			Timeout:            Duration(5 * time.Second),
			HealthyThreshold:   2,
			UnhealthyThreshold: 1,
		},
		Upstream: UpstreamConfig{
			Timeout:             Duration(30 * time.Second),
			SuspectFailedHosts:  true,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     100,
			IdleConnTimeout:     Duration(90 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
