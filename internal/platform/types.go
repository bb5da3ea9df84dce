package platform

// Platform defines the interface for platform-specific operations
type Platform interface {
	// DeviceID returns a stable identifier for this device
	DeviceID() (string, error)

	// SystemInfo returns system information
	SystemInfo() (*SystemInfo, error)

	// NetworkUp reports whether any non-loopback interface has a usable link
	NetworkUp() (bool, error)
}

// SystemInfo contains system information
type SystemInfo struct {
	OS       string
	Arch     string
	Hostname string
}
