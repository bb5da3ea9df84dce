package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFields(t *testing.T) {
	raw, err := parseFields([]string{"product=urea", " quantity = 20 kg", "notes="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"product": "urea", "quantity": "20 kg", "notes": ""}, raw)

	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)

	_, err = parseFields([]string{"=x"})
	assert.Error(t, err)
}

func writeConfig(t *testing.T, backendURL string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`env: test
log:
  level: error
  format: console
storage:
  driver: sqlite
  path: %s
  retention: 24h
device:
  id: tablet-7
  name: North orchard tablet
backend:
  base_url: %s
  timeout: 5s
  breaker:
    failure_threshold: 3
    open_timeout: 30s
sync:
  delivery_timeout: 5s
  auto_retry_limit: 2
  max_attempts: 4
  backoff_base: 1s
  backoff_max: 10s
  backoff_jitter: 0.1
  prune_interval: 1h
connectivity:
  probe: backend
  poll_interval: 10s
  stabilization: 0s
  probe_timeout: 2s
location:
  provider: none
  timeout: 1s
  accuracy: coarse
server:
  enabled: false
  port: 8765
`, filepath.Join(dir, "data", "events.db"), backendURL)

	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestCaptureStatusAndSync(t *testing.T) {
	var delivered atomic.Int32
	var deviceName atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/v1/events" {
			delivered.Add(1)
			deviceName.Store(r.Header.Get("X-Device-Name"))
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	configPath := writeConfig(t, backend.URL)

	out := execute(t, "--config", configPath, "capture",
		"--category", "fertilizer",
		"--field", "product=urea",
		"--field", "quantity=20 kg",
	)
	assert.Contains(t, out, "captured ")
	assert.Contains(t, out, "no location")
	assert.Equal(t, int32(0), delivered.Load())

	out = execute(t, "--config", configPath, "status")
	assert.Contains(t, out, "pending:   1")

	out = execute(t, "--config", configPath, "sync")
	assert.Contains(t, out, `"synced": 1`)
	assert.Equal(t, int32(1), delivered.Load())
	assert.Equal(t, "North orchard tablet", deviceName.Load())

	out = execute(t, "--config", configPath, "status")
	assert.Contains(t, out, "pending:   0")
	assert.Contains(t, out, "synced:    1")

	out = execute(t, "--config", configPath, "prune", "--older-than", "1ns")
	assert.Contains(t, out, "pruned 1 synced events")
}

func TestRetryUnknownEvent(t *testing.T) {
	configPath := writeConfig(t, "http://127.0.0.1:1")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath, "retry", "does-not-exist"})
	assert.ErrorContains(t, cmd.Execute(), "event not found")
}
