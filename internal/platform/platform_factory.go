package platform

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewPlatform creates the implementation for the current OS
func NewPlatform() Platform {
	return newPlatform()
}

// ResolveDeviceID returns the configured id, then the platform id, and as a
// last resort a random UUID
func ResolveDeviceID(configured string, p Platform, logger *zap.Logger) string {
	if configured != "" {
		return configured
	}

	deviceID, err := p.DeviceID()
	if err == nil && deviceID != "" {
		return deviceID
	}

	// Fallback: generate UUID
	generated := uuid.New().String()
	logger.Warn("Could not determine device ID, using a generated one",
		zap.String("device_id", generated),
		zap.Error(err),
	)
	return generated
}

// ResolveDeviceName returns the configured name, falling back to the hostname
// reported by the platform
func ResolveDeviceName(configured string, info *SystemInfo) string {
	if configured != "" {
		return configured
	}
	if info != nil {
		return info.Hostname
	}
	return ""
}
