package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"Mansoor88-6/fieldsync-agent/internal/handler"
	"Mansoor88-6/fieldsync-agent/internal/models"
	"Mansoor88-6/fieldsync-agent/internal/router"
	"Mansoor88-6/fieldsync-agent/internal/server"
	"Mansoor88-6/fieldsync-agent/internal/supervisor"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent: capture API, connectivity monitor and sync engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), root.configPath)
		},
	}
}

func runAgent(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.log
	log.Info("Starting fieldsync agent",
		zap.String("env", a.cfg.Env),
		zap.String("config_path", configPath),
		zap.String("device_id", a.deviceID),
		zap.String("device_name", a.deviceName),
		zap.String("storage_driver", a.cfg.Storage.Driver),
		zap.String("backend_url", a.cfg.Backend.BaseURL),
	)

	if a.system != nil {
		log.Info("System information",
			zap.String("os", a.system.OS),
			zap.String("arch", a.system.Arch),
			zap.String("hostname", a.system.Hostname),
		)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.poller.Prime(ctx)

	a.engine.OnDrainComplete(func(s models.DrainSummary) {
		for _, f := range s.Failures {
			log.Warn("Event needs attention",
				zap.String("event_id", f.EventID),
				zap.String("category", string(f.Category)),
				zap.String("reason", f.Reason),
			)
		}
	})

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig(), log.Logger)
	tree.AddSyncService(supervisor.NewRunnerService("connectivity-poller", a.poller))
	tree.AddSyncService(supervisor.NewRunnerService("sync-engine", a.engine))

	if a.cfg.Server.Enabled {
		eventHandler := handler.NewEventHandler(a.engine, a.cfg.Sync.DeliveryTimeout*2, log.Logger)
		tree.AddAPIService(server.New(a.cfg.Server.Port, router.New(eventHandler, log.Logger), log.Logger))
	} else {
		log.Info("Local API server disabled in configuration")
	}

	log.Info("Fieldsync agent started")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Supervisor stopped with error", zap.Error(err))
		return err
	}

	log.Info("Fieldsync agent stopped")
	return nil
}
