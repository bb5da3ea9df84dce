package connectivity

import (
	"context"

	"go.uber.org/zap"
)

// Pinger is anything that can tell whether a remote endpoint answers
type Pinger interface {
	Reachable(ctx context.Context) error
}

// BackendProbe treats the device as online when the ingestion API answers
type BackendProbe struct {
	pinger Pinger
	logger *zap.Logger
}

func NewBackendProbe(pinger Pinger, logger *zap.Logger) *BackendProbe {
	return &BackendProbe{pinger: pinger, logger: logger}
}

func (b *BackendProbe) Online(ctx context.Context) bool {
	if err := b.pinger.Reachable(ctx); err != nil {
		b.logger.Debug("Backend probe failed", zap.Error(err))
		return false
	}
	return true
}
