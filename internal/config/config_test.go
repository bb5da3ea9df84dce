package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "env: test\nbackend:\n  base_url: \"https://api.example.com\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 5, cfg.Sync.AutoRetryLimit)
	assert.Equal(t, 20, cfg.Sync.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Sync.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Sync.BackoffMax)
	assert.Equal(t, "backend", cfg.Connectivity.Probe)
	assert.Equal(t, "gpsd", cfg.Location.Provider)
	assert.Equal(t, uint32(5), cfg.Backend.Breaker.FailureThreshold)
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: badger
  path: /var/lib/fieldsync
sync:
  auto_retry_limit: 3
  max_attempts: 10
  backoff_base: 500ms
  backoff_max: 30s
location:
  provider: static
  static_latitude: 37.99
  static_longitude: -1.13
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/fieldsync", cfg.Storage.Path)
	assert.Equal(t, 3, cfg.Sync.AutoRetryLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.BackoffBase)
	assert.Equal(t, "static", cfg.Location.Provider)
	assert.InDelta(t, 37.99, cfg.Location.StaticLat, 1e-9)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown driver", body: "storage:\n  driver: postgres\n"},
		{name: "max attempts below auto limit", body: "sync:\n  auto_retry_limit: 5\n  max_attempts: 2\n"},
		{name: "bad latitude", body: "location:\n  static_latitude: 123\n"},
		{name: "unknown probe", body: "connectivity:\n  probe: ping\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("FIELDSYNC_STORAGE_DRIVER", "badger")
	path := writeConfig(t, "storage:\n  driver: sqlite\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Driver)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
