package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattkit/pkg/device"
)

type readOptions struct {
	hex   bool
	desc  string
	watch time.Duration
}

func newReadCmd(g *globalOptions) *cobra.Command {
	o := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read <device-address> <service-uuid> <char-uuid>",
		Short: "Read a characteristic or descriptor value",
		Long: fmt.Sprintf(`Reads a characteristic (or one of its descriptors) from the device.

The device is connected for the duration of the command unless it already is.

Examples:
  # Read Battery Level
  gattctl read %s 180f 2a19 --hex

  # Read the Client Characteristic Configuration descriptor
  gattctl read %s 180d 2a37 --desc 2902 --hex

  # Poll every 500ms until Ctrl+C
  gattctl read %s 180d 2a37 --hex --watch 500ms

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, g, o, args)
		},
	}
	cmd.Flags().BoolVar(&o.hex, "hex", false, "Output as hex string (e.g., 'ff01'); raw bytes by default")
	cmd.Flags().StringVar(&o.desc, "desc", "", "Descriptor UUID (reads the descriptor instead of the characteristic)")
	cmd.Flags().DurationVar(&o.watch, "watch", 0, "Read repeatedly at this interval until Ctrl+C")
	return cmd
}

func runRead(cmd *cobra.Command, g *globalOptions, o *readOptions, args []string) error {
	var descUUID device.UUID
	if o.desc != "" {
		u, err := device.ParseUUID(o.desc)
		if err != nil {
			return fmt.Errorf("invalid descriptor UUID: %w", err)
		}
		descUUID = u
	}
	if o.watch < 0 {
		return fmt.Errorf("invalid watch interval %v", o.watch)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv(ctx, cmd, g)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Reading %s from %s", args[2], args[0]), "Connecting")
	progress.Start()
	defer progress.Stop()

	t, err := env.connectTarget(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	defer t.release()

	read := t.char.Read
	if descUUID != "" {
		dctx, cancel := context.WithTimeout(ctx, env.cfg.OperationTimeout)
		d, err := t.char.Descriptor(dctx, descUUID)
		cancel()
		if err != nil {
			return err
		}
		read = d.Read
	}
	progress.Stop()

	readOnce := func() error {
		rctx, cancel := context.WithTimeout(ctx, env.cfg.OperationTimeout)
		defer cancel()
		data, err := read(rctx)
		if err != nil {
			return fmt.Errorf("failed to read: %w", err)
		}
		return writeValue(cmd.OutOrStdout(), data, o.hex)
	}

	if o.watch == 0 {
		return readOnce()
	}
	return watchRead(ctx, cmd.ErrOrStderr(), o.watch, readOnce, env)
}

// watchRead repeats read at interval until ctx ends. Failures other than a lost connection
// are logged and the watch continues.
func watchRead(ctx context.Context, status io.Writer, interval time.Duration, read func() error, env *commandEnv) error {
	fmt.Fprintf(status, "Watching (reading every %v). Press Ctrl+C to stop...\n", interval)
	if err := read(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := read(); err != nil {
				if errors.Is(err, device.ErrNotConnected) {
					return ErrConnectionLost
				}
				if ctx.Err() != nil {
					return nil
				}
				env.logger.WithError(err).Warn("Failed to read characteristic, continuing...")
			}
		}
	}
}
