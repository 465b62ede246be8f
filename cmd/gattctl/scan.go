package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattkit/pkg/config"
	"github.com/srg/gattkit/pkg/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type scanOptions struct {
	duration time.Duration
	format   string
	services []string
}

func newScanCmd(g *globalOptions) *cobra.Command {
	o := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Connected devices do not advertise and are not listed. Each device is shown once with
its most recent advertisement.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, g, o)
		},
	}
	cmd.Flags().DurationVarP(&o.duration, "duration", "d", 0, "Scan duration (default from config, 10s; 0 with --duration set means until Ctrl+C)")
	cmd.Flags().StringVarP(&o.format, "format", "f", "", "Output format (table, json); default from config")
	cmd.Flags().StringSliceVarP(&o.services, "services", "s", nil, "Only show devices advertising one of these service UUIDs")
	return cmd
}

func runScan(cmd *cobra.Command, g *globalOptions, o *scanOptions) error {
	if o.format != "" && !slices.Contains(config.OutputFormats, o.format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", o.format, config.OutputFormats)
	}
	services, err := device.ParseUUIDs(o.services...)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv(ctx, cmd, g)
	if err != nil {
		return err
	}
	defer env.Close()

	format := env.cfg.OutputFormat
	if o.format != "" {
		format = o.format
	}
	duration := env.cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		duration = o.duration
	}

	scanCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := env.adapter.WaitAvailable(scanCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return device.ErrBluetoothOff
		}
		return err
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", duration)
	progress.Start()
	defer progress.Stop()

	entries, err := collectAdvertisements(scanCtx, env.adapter, services)
	progress.Stop()
	if err != nil {
		return err
	}
	env.logger.WithField("devices", entries.Len()).Debug("Scan finished")

	if format == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), entries)
	}
	return displayDevicesTable(cmd.OutOrStdout(), entries)
}

// collectAdvertisements scans until ctx ends and keeps the latest advertisement per device,
// in order of first appearance. Ending by timeout or Ctrl+C is not an error.
func collectAdvertisements(ctx context.Context, adapter *device.Adapter, services []device.UUID) (*orderedmap.OrderedMap[device.DeviceID, *scanEntry], error) {
	entries := orderedmap.New[device.DeviceID, *scanEntry]()

	stream, err := adapter.Scan(ctx, services)
	if err != nil {
		return nil, err
	}
	for ad, err := range stream.All(ctx) {
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return entries, err
		}
		if e, ok := entries.Get(ad.Device.ID()); ok {
			e.ad = ad
			e.count++
			continue
		}
		entries.Set(ad.Device.ID(), &scanEntry{ad: ad, count: 1})
	}
	return entries, nil
}
