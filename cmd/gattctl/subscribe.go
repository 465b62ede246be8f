package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattkit/pkg/device"
)

// maxBatchBuffer guards against accidental misconfiguration of --batch-size.
const maxBatchBuffer = 1 << 20

type subscribeOptions struct {
	hex       bool
	batch     time.Duration
	batchSize uint32
	count     int
}

func newSubscribeCmd(g *globalOptions) *cobra.Command {
	o := &subscribeOptions{}
	cmd := &cobra.Command{
		Use:   "subscribe <device-address> <service-uuid> <char-uuid>",
		Short: "Subscribe to characteristic notifications",
		Long: fmt.Sprintf(`Subscribes to notifications (or indications) of a characteristic and prints every
received value.

With --batch, values are collected and printed once per interval. When more than
--batch-size values arrive within one interval the oldest are dropped.

Examples:
  # Heart rate measurements as they arrive
  gattctl subscribe %s 180d 2a37 --hex

  # Print once per second
  gattctl subscribe %s 180d 2a37 --hex --batch 1s

  # Stop after 10 values
  gattctl subscribe %s 180d 2a37 --hex --count 10

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, g, o, args)
		},
	}
	cmd.Flags().BoolVar(&o.hex, "hex", false, "Output as hex string; raw bytes by default")
	cmd.Flags().DurationVar(&o.batch, "batch", 0, "Collect values and print them once per interval")
	cmd.Flags().Uint32Var(&o.batchSize, "batch-size", 1024, "Maximum values kept per batch interval")
	cmd.Flags().IntVar(&o.count, "count", 0, "Exit after this many values (0 means until Ctrl+C)")
	return cmd
}

func runSubscribe(cmd *cobra.Command, g *globalOptions, o *subscribeOptions, args []string) error {
	if o.batch < 0 {
		return fmt.Errorf("invalid batch interval %v", o.batch)
	}
	if o.batch > 0 && (o.batchSize == 0 || o.batchSize > maxBatchBuffer) {
		return fmt.Errorf("batch size must be between 1 and %d", maxBatchBuffer)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := loadEnv(ctx, cmd, g)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Subscribing to %s on %s", args[2], args[0]), "Connecting")
	progress.Start()
	defer progress.Stop()

	t, err := env.connectTarget(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	defer t.release()

	stream, err := t.char.Notify(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer stream.Close()
	progress.Stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Subscribed to %s. Press Ctrl+C to stop...\n", t.char.UUID())

	out := cmd.OutOrStdout()
	if o.batch > 0 {
		err = consumeBatched(stream, out, o, env.logger)
	} else {
		err = consumeLive(stream, out, o)
	}
	if dropped := stream.Dropped(); dropped > 0 {
		env.logger.WithField("dropped", dropped).Warn("Notifications dropped because output fell behind")
	}
	return err
}

// consumeLive prints every value as it arrives.
func consumeLive(stream *device.Stream[[]byte], w io.Writer, o *subscribeOptions) error {
	received := 0
	for v := range stream.C() {
		if err := writeValue(w, v, o.hex); err != nil {
			return err
		}
		received++
		if o.count > 0 && received >= o.count {
			return nil
		}
	}
	return streamEnd(stream)
}

// consumeBatched collects values in an overwriting ring buffer and prints it once per
// interval, and once more when the stream ends.
func consumeBatched(stream *device.Stream[[]byte], w io.Writer, o *subscribeOptions, logger *logrus.Logger) error {
	buffer := mpmc.NewOverlappedRingBuffer[[]byte](o.batchSize)
	var overwritten uint32

	flush := func() error {
		for !buffer.IsEmpty() {
			v, err := buffer.Dequeue()
			if err != nil {
				return fmt.Errorf("batch dequeue error: %w", err)
			}
			if err := writeValue(w, v, o.hex); err != nil {
				return err
			}
		}
		if overwritten > 0 {
			logger.WithField("overwritten", overwritten).Warn("Batch overflowed, oldest values dropped")
			overwritten = 0
		}
		return nil
	}

	ticker := time.NewTicker(o.batch)
	defer ticker.Stop()

	values := stream.C()
	received := 0
	for {
		select {
		case v, ok := <-values:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				return streamEnd(stream)
			}
			n, err := buffer.EnqueueM(v)
			if err != nil {
				return fmt.Errorf("batch enqueue error: %w", err)
			}
			overwritten += n
			received++
			if o.count > 0 && received >= o.count {
				return flush()
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// streamEnd maps how a notification stream ended to the command result.
func streamEnd(stream *device.Stream[[]byte]) error {
	<-stream.Done()
	err := stream.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, device.ErrNotConnected):
		return ErrConnectionLost
	}
	return err
}
