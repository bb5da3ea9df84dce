package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline field-event capture and sync agent",
		Long: `fieldsync records field work on the device, stores every event durably,
and uploads it to the ingestion API whenever the device is online.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config/local.yaml", "path to configuration file")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCaptureCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newPruneCommand(opts))

	return cmd
}
