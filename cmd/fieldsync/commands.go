package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newCaptureCommand(root *rootOptions) *cobra.Command {
	var (
		category string
		fields   []string
		syncNow  bool
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record a field event",
		Long: `Record a field event in the local store. The event is durable when the
command returns, whether or not the device is online.

Example:
  fieldsync capture --category fertilizer --field product=urea --field "quantity=20 kg"
  fieldsync capture --category harvest --field crop=olives --field quantity=420 --sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := parseFields(fields)
			if err != nil {
				return err
			}

			a, err := newApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			res, err := a.engine.Capture(ctx, models.Category(category), raw)
			if err != nil {
				return fmt.Errorf("event was not stored: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "captured %s (%s)\n", res.Event.ID, res.Event.Category)
			if res.LocationErr != nil {
				fmt.Fprintf(out, "no location: %v\n", res.LocationErr)
			}

			if !syncNow {
				return nil
			}
			return syncOnce(ctx, a, out)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "event category (fertilizer, irrigation, pest_control, pruning, equipment, harvest)")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "event field as key=value, repeatable")
	cmd.Flags().BoolVar(&syncNow, "sync", false, "try to upload pending events after capturing")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued events and failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.poller.Prime(ctx)

			status, err := a.engine.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to read status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "online:    %t\n", status.Online)
			fmt.Fprintf(out, "pending:   %d\n", status.Counts.Pending+status.Counts.InFlight)
			fmt.Fprintf(out, "failed:    %d\n", status.Counts.Failed)
			fmt.Fprintf(out, "synced:    %d\n", status.Counts.Synced)
			for _, ev := range status.Failed {
				fmt.Fprintf(out, "  %s  %-12s  %s\n", ev.ID, ev.Category, ev.LastError)
			}
			return nil
		},
	}
}

func newRetryCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <event-id>",
		Short: "Re-arm a failed event for delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Retry(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to retry %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s will be delivered on the next sync\n", args[0])
			return nil
		},
	}
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload pending events now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			return syncOnce(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func newPruneCommand(root *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete synced events older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if olderThan <= 0 {
				olderThan = a.cfg.Storage.Retention
			}

			n, err := a.queue.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d synced events\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of synced events to delete (default: storage.retention)")

	return cmd
}

// syncOnce runs the engine for a single explicit pass and prints its summary
func syncOnce(ctx context.Context, a *app, out io.Writer) error {
	a.poller.Prime(ctx)

	summary, err := a.engine.DrainOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// parseFields turns repeated key=value flags into a raw payload
func parseFields(fields []string) (map[string]any, error) {
	raw := make(map[string]any, len(fields))
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", f)
		}
		raw[key] = strings.TrimSpace(value)
	}
	return raw, nil
}
