//go:build !linux

package platform

import (
	"fmt"
	"net"
	"os"
	"runtime"
)

type genericImpl struct{}

func newPlatform() Platform {
	return genericImpl{}
}

func (genericImpl) DeviceID() (string, error) {
	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return runtime.GOOS + "-" + hostname, nil
	}
	return "", fmt.Errorf("could not determine %s device ID", runtime.GOOS)
}

func (genericImpl) SystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: hostname,
	}, nil
}

func (genericImpl) NetworkUp() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
