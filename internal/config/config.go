// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings (MCP + health endpoint in the daemon).
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings. When DatabaseURL is empty the daemon falls back to
	// the local SQLite file at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// Evaluator settings.
	PollInterval time.Duration // sleep between deferred-queue polling cycles
	PoolSize     int           // worker pool size
	DrainTimeout time.Duration // bound on waiting for in-flight runs at shutdown

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:         envInt("HYOUKA_PORT", 8285),
		ReadTimeout:  envDuration("HYOUKA_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: envDuration("HYOUKA_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		SQLitePath:   envStr("HYOUKA_SQLITE_PATH", "default.sqlite"),
		PollInterval: envDuration("HYOUKA_POLL_INTERVAL", 10*time.Second),
		PoolSize:     envInt("HYOUKA_POOL_SIZE", 8),
		DrainTimeout: envDuration("HYOUKA_DRAIN_TIMEOUT", 30*time.Second),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "hyouka"),
		LogLevel:     envStr("HYOUKA_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("config: either DATABASE_URL or HYOUKA_SQLITE_PATH is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: HYOUKA_POLL_INTERVAL must be positive")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: HYOUKA_POOL_SIZE must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
