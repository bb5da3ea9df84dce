//go:build linux

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLinux_DeviceIDFromMachineID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "machine-id"), "4c4c4544004b5a10\n")

	p := &linuxImpl{machineIDPaths: []string{filepath.Join(dir, "missing"), filepath.Join(dir, "machine-id")}}
	id, err := p.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, "4c4c4544004b5a10", id)
}

func TestLinux_NetworkUp(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]string
		want   bool
	}{
		{"only loopback", map[string]string{"lo": "unknown"}, false},
		{"wifi up", map[string]string{"lo": "unknown", "wlan0": "up\n"}, true},
		{"all down", map[string]string{"eth0": "down", "wwan0": "dormant"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for iface, state := range tt.states {
				writeFile(t, filepath.Join(dir, iface, "operstate"), state)
			}

			up, err := (&linuxImpl{sysClassNet: dir}).NetworkUp()
			require.NoError(t, err)
			assert.Equal(t, tt.want, up)
		})
	}
}

func TestResolveDeviceID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "machine-id"), "abc123")
	p := &linuxImpl{machineIDPaths: []string{filepath.Join(dir, "machine-id")}}

	assert.Equal(t, "configured", ResolveDeviceID("configured", p, zap.NewNop()))
	assert.Equal(t, "abc123", ResolveDeviceID("", p, zap.NewNop()))
}

func TestLinux_SystemInfo(t *testing.T) {
	info, err := (&linuxImpl{}).SystemInfo()
	require.NoError(t, err)
	assert.Equal(t, "linux", info.OS)
	assert.NotEmpty(t, info.Arch)
}

func TestResolveDeviceName(t *testing.T) {
	info := &SystemInfo{OS: "linux", Arch: "arm64", Hostname: "field-tab-3"}

	assert.Equal(t, "North orchard", ResolveDeviceName("North orchard", info))
	assert.Equal(t, "field-tab-3", ResolveDeviceName("", info))
	assert.Empty(t, ResolveDeviceName("", nil))
}
