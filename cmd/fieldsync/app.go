package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/client"
	"Mansoor88-6/fieldsync-agent/internal/clock"
	"Mansoor88-6/fieldsync-agent/internal/config"
	"Mansoor88-6/fieldsync-agent/internal/connectivity"
	"Mansoor88-6/fieldsync-agent/internal/database"
	"Mansoor88-6/fieldsync-agent/internal/location"
	"Mansoor88-6/fieldsync-agent/internal/logger"
	"Mansoor88-6/fieldsync-agent/internal/platform"
	"Mansoor88-6/fieldsync-agent/internal/queue"
	"Mansoor88-6/fieldsync-agent/internal/service"

	"go.uber.org/zap"
)

// app holds the wired agent components shared by every command
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	deviceID   string
	deviceName string
	system     *platform.SystemInfo

	queue      queue.Queue
	closeQueue func() error
	apiClient  *client.APIClient
	poller     *connectivity.Poller
	engine     *service.SyncEngine
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	clk := clock.Real()
	plat := platform.NewPlatform()
	deviceID := platform.ResolveDeviceID(cfg.Device.ID, plat, log.Logger)

	system, err := plat.SystemInfo()
	if err != nil {
		log.Warn("Failed to read system information", zap.Error(err))
	}
	deviceName := platform.ResolveDeviceName(cfg.Device.Name, system)

	q, closeQueue, err := openQueue(cfg.Storage, clk, log.Logger)
	if err != nil {
		log.Sync()
		return nil, err
	}

	apiClient := client.NewAPIClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.Timeout, log.Logger)
	if cfg.Backend.DeviceToken != "" {
		apiClient.SetDeviceToken(cfg.Backend.DeviceToken)
	}
	apiClient.SetDeviceName(deviceName)

	deliverer := client.NewBreakerClient(apiClient, client.BreakerSettings{
		Name:             "ingestion",
		FailureThreshold: cfg.Backend.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Backend.Breaker.OpenTimeout,
	}, log.Logger)

	poller := connectivity.NewPoller(
		newProbe(cfg.Connectivity, apiClient, plat, log.Logger),
		clk,
		connectivity.PollerConfig{
			Interval:      cfg.Connectivity.PollInterval,
			Stabilization: cfg.Connectivity.Stabilization,
			ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
		},
		log.Logger,
	)

	engine := service.NewSyncEngine(
		q,
		deliverer,
		poller,
		newSampler(cfg.Location, log.Logger),
		clk,
		engineOptions(cfg, deviceID),
		log.Logger,
	)

	return &app{
		cfg:        cfg,
		log:        log,
		deviceID:   deviceID,
		deviceName: deviceName,
		system:     system,
		queue:      q,
		closeQueue: closeQueue,
		apiClient:  apiClient,
		poller:     poller,
		engine:     engine,
	}, nil
}

func (a *app) Close() {
	if err := a.closeQueue(); err != nil {
		a.log.Error("Failed to close event store", zap.Error(err))
	}
	a.log.Sync()
}

// openQueue opens the configured durable store
func openQueue(cfg config.StorageConfig, clk clock.Clock, logger *zap.Logger) (queue.Queue, func() error, error) {
	switch cfg.Driver {
	case "badger":
		q, err := queue.OpenBadgerQueue(cfg.Path, clk, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event store: %w", err)
		}
		return q, q.Close, nil

	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		db, err := database.New(cfg.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event store: %w", err)
		}
		return queue.NewSQLiteQueue(db.DB, clk, logger), db.Close, nil
	}
}

func newProbe(cfg config.ConnectivityConfig, pinger connectivity.Pinger, plat platform.Platform, logger *zap.Logger) connectivity.Probe {
	if cfg.Probe == "interface" {
		return connectivity.ProbeFunc(func(ctx context.Context) bool {
			up, err := plat.NetworkUp()
			if err != nil {
				logger.Debug("Failed to read network interfaces", zap.Error(err))
				return false
			}
			return up
		})
	}
	return connectivity.NewBackendProbe(pinger, logger)
}

func newSampler(cfg config.LocationConfig, logger *zap.Logger) location.Sampler {
	switch cfg.Provider {
	case "gpsd":
		return location.NewGPSD(cfg.GPSDAddr, logger)
	case "static":
		return location.NewStatic(cfg.StaticLat, cfg.StaticLon, cfg.StaticAccuracy, time.Now)
	default:
		return location.Unavailable{}
	}
}

func engineOptions(cfg *config.Config, deviceID string) service.Options {
	return service.Options{
		DeviceID:         deviceID,
		LocationTimeout:  cfg.Location.Timeout,
		LocationAccuracy: location.Accuracy(cfg.Location.Accuracy),
		DeliveryTimeout:  cfg.Sync.DeliveryTimeout,
		AutoRetryLimit:   cfg.Sync.AutoRetryLimit,
		MaxAttempts:      cfg.Sync.MaxAttempts,
		Backoff: service.BackoffPolicy{
			Base:   cfg.Sync.BackoffBase,
			Max:    cfg.Sync.BackoffMax,
			Jitter: cfg.Sync.BackoffJitter,
		},
		BreakerCooldown: cfg.Backend.Breaker.OpenTimeout,
		Retention:       cfg.Storage.Retention,
		PruneInterval:   cfg.Sync.PruneInterval,
	}
}
