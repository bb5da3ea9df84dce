//go:build linux

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type linuxImpl struct {
	machineIDPaths []string
	sysClassNet    string
}

func newPlatform() Platform {
	return &linuxImpl{
		machineIDPaths: []string{"/etc/machine-id", "/var/lib/dbus/machine-id"},
		sysClassNet:    "/sys/class/net",
	}
}

func (p *linuxImpl) DeviceID() (string, error) {
	for _, path := range p.machineIDPaths {
		machineID, err := os.ReadFile(path)
		if err == nil && len(strings.TrimSpace(string(machineID))) > 0 {
			return strings.TrimSpace(string(machineID)), nil
		}
	}

	// Fallback to hostname
	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return "linux-" + hostname, nil
	}

	return "", fmt.Errorf("could not determine Linux device ID")
}

func (p *linuxImpl) SystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:       "linux",
		Arch:     runtime.GOARCH,
		Hostname: hostname,
	}, nil
}

// NetworkUp reads the kernel's operstate for every interface except loopback
func (p *linuxImpl) NetworkUp() (bool, error) {
	entries, err := os.ReadDir(p.sysClassNet)
	if err != nil {
		return false, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, entry := range entries {
		if entry.Name() == "lo" {
			continue
		}
		state, err := os.ReadFile(filepath.Join(p.sysClassNet, entry.Name(), "operstate"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(state)) == "up" {
			return true, nil
		}
	}
	return false, nil
}
