package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattkit/pkg/config"
	"github.com/srg/gattkit/pkg/device"
)

// newSession opens the Bluetooth session for a command. Tests swap it for a mocked backend.
var newSession = device.NewSession

// commandEnv is what every device command works with.
type commandEnv struct {
	cfg     *config.Config
	logger  *logrus.Logger
	session *device.Session
	adapter *device.Adapter
}

// loadEnv resolves configuration and flags, builds the logger and opens the default adapter.
func loadEnv(ctx context.Context, cmd *cobra.Command, g *globalOptions) (*commandEnv, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.backend != "" {
		cfg.Backend = g.backend
	}
	if g.adapter != "" {
		cfg.Adapter = g.adapter
	}

	logger, err := configureLogger(cfg, g)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(cmd.ErrOrStderr())

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	session, err := newSession(ctx, cfg.SessionOptions(logger))
	if err != nil {
		return nil, err
	}
	adapter, err := session.DefaultAdapter(ctx)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"backend": session.Backend(),
		"adapter": adapter.ID(),
	}).Debug("Bluetooth session opened")

	return &commandEnv{cfg: cfg, logger: logger, session: session, adapter: adapter}, nil
}

func (e *commandEnv) Close() {
	if err := e.session.Close(); err != nil {
		e.logger.WithError(err).Warn("Failed to close Bluetooth session")
	}
}

// target is a connected device and one of its characteristics.
type target struct {
	device *device.Device
	char   *device.Characteristic
	// release disconnects the device if the command connected it.
	release func()
}

// connectDevice opens address and connects it unless it already is. The returned release
// disconnects the device only if this call connected it.
func (e *commandEnv) connectDevice(ctx context.Context, address string) (*device.Device, func(), error) {
	wctx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()
	if err := e.adapter.WaitAvailable(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, device.ErrBluetoothOff
		}
		return nil, nil, err
	}

	d, err := e.adapter.OpenDevice(address)
	if err != nil {
		return nil, nil, err
	}

	connected, err := d.IsConnected(ctx)
	if err != nil {
		return nil, nil, err
	}
	if connected {
		return d, func() {}, nil
	}

	e.logger.WithField("device", d.ID()).Debug("Connecting...")
	if err := e.adapter.ConnectDevice(wctx, d); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	release := func() {
		dctx, cancel := context.WithTimeout(context.Background(), e.cfg.OperationTimeout)
		defer cancel()
		if err := e.adapter.DisconnectDevice(dctx, d); err != nil {
			e.logger.WithError(err).Warn("Failed to disconnect")
		}
	}
	return d, release, nil
}

// connectTarget connects to address (unless already connected) and resolves service/char.
func (e *commandEnv) connectTarget(ctx context.Context, address, service, char string) (*target, error) {
	svcUUID, err := device.ParseUUID(service)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID: %w", err)
	}
	charUUID, err := device.ParseUUID(char)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	d, release, err := e.connectDevice(ctx, address)
	if err != nil {
		return nil, err
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.OperationTimeout)
	defer cancel()
	svc, err := d.Service(octx, svcUUID)
	if err != nil {
		release()
		return nil, err
	}
	c, err := svc.Characteristic(octx, charUUID)
	if err != nil {
		release()
		return nil, err
	}
	return &target{device: d, char: c, release: release}, nil
}
