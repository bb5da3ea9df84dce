// Package supervisor runs the agent's long-lived components under a suture
// supervision tree, restarting any that fail.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// TreeConfig holds restart policy for every supervisor in the tree
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the agent supervision tree:
//
//	fieldsync
//	├── sync-layer  (connectivity poller, sync engine)
//	└── api-layer   (local HTTP API)
type Tree struct {
	root *suture.Supervisor
	sync *suture.Supervisor
	api  *suture.Supervisor
}

func NewTree(config TreeConfig, logger *zap.Logger) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	spec := suture.Spec{
		EventHook:        eventHook(logger),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("fieldsync", spec)
	syncLayer := suture.New("sync-layer", spec)
	apiLayer := suture.New("api-layer", spec)

	root.Add(syncLayer)
	root.Add(apiLayer)

	return &Tree{
		root: root,
		sync: syncLayer,
		api:  apiLayer,
	}
}

func (t *Tree) AddSyncService(svc suture.Service) suture.ServiceToken {
	return t.sync.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

func eventHook(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := []zap.Field{zap.Any("details", e.Map())}

		switch e.Type() {
		case suture.EventTypeServicePanic:
			logger.Error("Supervised service panicked", fields...)
		case suture.EventTypeServiceTerminate:
			logger.Warn("Supervised service terminated", fields...)
		case suture.EventTypeStopTimeout:
			logger.Error("Supervised service did not stop in time", fields...)
		case suture.EventTypeBackoff:
			logger.Warn("Supervisor backing off after repeated failures", fields...)
		case suture.EventTypeResume:
			logger.Info("Supervisor resumed", fields...)
		default:
			logger.Info(e.String())
		}
	}
}
