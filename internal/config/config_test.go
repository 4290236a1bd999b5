package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyouka/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HYOUKA_PORT", "DATABASE_URL", "HYOUKA_SQLITE_PATH",
		"HYOUKA_POLL_INTERVAL", "HYOUKA_POOL_SIZE", "HYOUKA_DRAIN_TIMEOUT",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "HYOUKA_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8285, cfg.Port)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, "default.sqlite", cfg.SQLitePath)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout)
	assert.Equal(t, "hyouka", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HYOUKA_PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://example/hyouka")
	t.Setenv("HYOUKA_POLL_INTERVAL", "2s")
	t.Setenv("HYOUKA_POOL_SIZE", "16")
	t.Setenv("HYOUKA_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "postgres://example/hyouka", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 16, cfg.PoolSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HYOUKA_PORT", "not-a-number")
	t.Setenv("HYOUKA_POLL_INTERVAL", "soon")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8285, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			SQLitePath:   "default.sqlite",
			PollInterval: 10 * time.Second,
			PoolSize:     8,
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.SQLitePath = ""
	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate(), "some storage target is required")

	cfg = base()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PoolSize = -1
	assert.Error(t, cfg.Validate())
}
