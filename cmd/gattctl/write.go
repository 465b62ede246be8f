package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/gattkit/pkg/device"
)

type writeOptions struct {
	hex          bool
	withResponse bool
	desc         string
}

func newWriteCmd(g *globalOptions) *cobra.Command {
	o := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "write <device-address> <service-uuid> <char-uuid> <data>",
		Short: "Write to a characteristic or descriptor",
		Long: fmt.Sprintf(`Writes data to a characteristic (or one of its descriptors).

Characteristics that support it are written without response unless --with-response is
given.

Examples:
  # Write a string
  gattctl write %s ffe0 ffe1 "hello"

  # Write hex data and wait for the acknowledgement
  gattctl write %s 1802 2a06 01 --hex --with-response

  # Enable notifications by hand
  gattctl write %s 180d 2a37 0100 --hex --desc 2902

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, g, o, args)
		},
	}
	cmd.Flags().BoolVar(&o.hex, "hex", false, "Parse data as hex (e.g., 'ff01'); literal bytes by default")
	cmd.Flags().BoolVar(&o.withResponse, "with-response", false, "Always request an acknowledgement from the device")
	cmd.Flags().StringVar(&o.desc, "desc", "", "Descriptor UUID (writes the descriptor instead of the characteristic)")
	return cmd
}

func runWrite(cmd *cobra.Command, g *globalOptions, o *writeOptions, args []string) error {
	data, err := parseValue(args[3], o.hex)
	if err != nil {
		return err
	}
	var descUUID device.UUID
	if o.desc != "" {
		if descUUID, err = device.ParseUUID(o.desc); err != nil {
			return fmt.Errorf("invalid descriptor UUID: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv(ctx, cmd, g)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Writing %d bytes to %s on %s", len(data), args[2], args[0]), "Connecting")
	progress.Start()
	defer progress.Stop()

	t, err := env.connectTarget(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	defer t.release()
	progress.SetPhase("Writing")

	wctx, cancel := context.WithTimeout(ctx, env.cfg.OperationTimeout)
	defer cancel()

	switch {
	case descUUID != "":
		d, err := t.char.Descriptor(wctx, descUUID)
		if err != nil {
			return err
		}
		err = d.Write(wctx, data)
		if err != nil {
			return fmt.Errorf("failed to write descriptor: %w", err)
		}
	case o.withResponse:
		if err := t.char.WriteWithResponse(wctx, data); err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
	default:
		if err := t.char.Write(wctx, data); err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
	}
	progress.Stop()

	env.logger.WithField("bytes", len(data)).Info("Write complete")
	return nil
}
