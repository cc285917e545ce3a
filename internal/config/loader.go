package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates a YAML configuration file. Values
// from AVALB_* environment variables override file values. An empty
// path returns the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		loaded, err := loadYAML(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads a YAML configuration file from the specified path.
func loadYAML(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("config path is a directory, not a file: %s", path)
	}

	// G304: path is validated above via os.Stat and comes from trusted configuration
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies AVALB_* environment variables on top of
// the loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AVALB_LISTEN_ADDRESS"); v != "" {
		cfg.Listen.Address = v
	}
	if v, ok := envInt("AVALB_LISTEN_PORT"); ok {
		cfg.Listen.Port = v
	}
	if v, ok := envInt("AVALB_ADMIN_PORT"); ok {
		cfg.Admin.Port = v
	}
	if v := os.Getenv("AVALB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AVALB_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v, ok := envInt("AVALB_RATE_LIMIT_REQUESTS"); ok {
		cfg.RateLimit.Requests = v
	}
	if v, ok := envDuration("AVALB_RATE_LIMIT_WINDOW"); ok {
		cfg.RateLimit.Window = v
	}
	if v := os.Getenv("AVALB_RATE_LIMIT_STORE"); v != "" {
		cfg.RateLimit.Store = v
	}
	if v := os.Getenv("AVALB_REDIS_ADDRESS"); v != "" {
		cfg.RateLimit.RedisAddress = v
	}
	if v := os.Getenv("AVALB_REDIS_PASSWORD"); v != "" {
		cfg.RateLimit.RedisPassword = v
	}
	if v, ok := envDuration("AVALB_HEALTH_CHECK_INTERVAL"); ok {
		cfg.HealthCheck.Interval = v
	}
	if v, ok := envDuration("AVALB_UPSTREAM_TIMEOUT"); ok {
		cfg.Upstream.Timeout = v
	}
}

// envInt reads an integer environment variable.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// envDuration reads a duration environment variable.
func envDuration(key string) (Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return Duration(d), true
}

// ListenAddr returns the traffic listener address in host:port form.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Address, strconv.Itoa(c.Listen.Port))
}

// AdminAddr returns the admin listener address in host:port form.
func (c *Config) AdminAddr() string {
	return net.JoinHostPort(c.Admin.Address, strconv.Itoa(c.Admin.Port))
}
