package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattkit/pkg/config"
	"github.com/srg/gattkit/pkg/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type inspectOptions struct {
	format            string
	readLimit         int
	descriptorTimeout time.Duration
}

func newInspectCmd(g *globalOptions) *cobra.Command {
	o := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <device-address>",
		Short: "Inspect services, characteristics, and descriptors of a BLE device",
		Long: fmt.Sprintf(`Connects to a BLE device by address and discovers its services,
characteristics, and descriptors. Attempts to read characteristic values when possible.

Examples:
  gattctl inspect %s
  gattctl inspect %s --format json --read-limit 0

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, g, o, args[0])
		},
	}
	cmd.Flags().StringVarP(&o.format, "format", "f", "", "Output format (table, json); default from config")
	cmd.Flags().IntVar(&o.readLimit, "read-limit", 64, "Max bytes shown from readable characteristics (0 to disable reads)")
	cmd.Flags().DurationVar(&o.descriptorTimeout, "descriptor-timeout", 2*time.Second, "Timeout for reading descriptor values (0 to skip descriptor reads)")
	return cmd
}

func runInspect(cmd *cobra.Command, g *globalOptions, o *inspectOptions, address string) error {
	if o.format != "" && !slices.Contains(config.OutputFormats, o.format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", o.format, config.OutputFormats)
	}
	if o.readLimit < 0 {
		return fmt.Errorf("invalid read limit %d", o.readLimit)
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

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting device %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	profile, err := inspectDevice(ctx, env, address, progress.SetPhase, func(d *device.Device) (*deviceProfile, error) {
		return collectProfile(ctx, d, o, env.cfg.OperationTimeout, env.logger)
	})
	progress.Stop()
	if err != nil {
		return err
	}

	if format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(profile.toJSON())
	}
	return profile.writeText(cmd.OutOrStdout())
}

// inspectDevice connects to address, runs fn on the connected device and disconnects it
// again if it was not connected before. phase is told about progress.
func inspectDevice[R any](ctx context.Context, env *commandEnv, address string, phase func(string), fn func(*device.Device) (R, error)) (R, error) {
	var zero R
	if phase == nil {
		phase = func(string) {}
	}

	phase("Connecting")
	d, release, err := env.connectDevice(ctx, address)
	if err != nil {
		phase("Failed")
		return zero, err
	}
	defer release()

	phase("Discovering")
	return fn(d)
}

type profileDescriptor struct {
	uuid    device.UUID
	handle  uint16
	value   []byte
	readErr error
}

type profileCharacteristic struct {
	uuid        device.UUID
	handle      uint16
	props       device.Properties
	value       []byte
	readErr     error
	descriptors []profileDescriptor
}

type profileService struct {
	uuid            device.UUID
	handle          uint16
	primary         bool
	characteristics []profileCharacteristic
}

// deviceProfile is a snapshot of a device's attribute tree.
type deviceProfile struct {
	id       device.DeviceID
	name     string
	services []profileService
}

// collectProfile walks the attribute tree of d. Value read failures are recorded in the
// profile, discovery failures abort.
func collectProfile(ctx context.Context, d *device.Device, o *inspectOptions, timeout time.Duration, logger *logrus.Logger) (*deviceProfile, error) {
	opCtx := func(t time.Duration) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, t)
	}

	profile := &deviceProfile{id: d.ID()}
	nctx, cancel := opCtx(timeout)
	if name, err := d.Name(nctx); err == nil {
		profile.name = name
	}
	cancel()

	dctx, cancel := opCtx(timeout)
	services, err := d.DiscoverServices(dctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	for _, svc := range services {
		ps := profileService{uuid: svc.UUID(), handle: svc.Handle(), primary: svc.IsPrimary()}

		cctx, cancel := opCtx(timeout)
		chars, err := svc.Characteristics(cctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics of %s: %w", svc.UUID(), err)
		}

		for _, c := range chars {
			pc := profileCharacteristic{uuid: c.UUID(), handle: c.Handle(), props: c.Properties()}
			if o.readLimit > 0 && pc.props.Has(device.PropRead) {
				rctx, cancel := opCtx(timeout)
				pc.value, pc.readErr = c.Read(rctx)
				cancel()
				if len(pc.value) > o.readLimit {
					pc.value = pc.value[:o.readLimit]
				}
			}

			xctx, cancel := opCtx(timeout)
			descs, err := c.Descriptors(xctx)
			cancel()
			if err != nil {
				logger.WithFields(logrus.Fields{
					"characteristic": c.UUID(),
					"error":          err,
				}).Warn("Failed to discover descriptors, skipping")
			}
			for _, desc := range descs {
				pd := profileDescriptor{uuid: desc.UUID(), handle: desc.Handle()}
				if o.descriptorTimeout > 0 {
					rctx, cancel := opCtx(o.descriptorTimeout)
					pd.value, pd.readErr = desc.Read(rctx)
					cancel()
				}
				pc.descriptors = append(pc.descriptors, pd)
			}
			ps.characteristics = append(ps.characteristics, pc)
		}
		profile.services = append(profile.services, ps)
	}
	return profile, nil
}

func valueText(value []byte, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf(" read failed: %v", err)
	case value != nil:
		return " value=" + hex.EncodeToString(value)
	}
	return ""
}

func (p *deviceProfile) writeText(w io.Writer) error {
	title := color.New(color.Bold)
	header := "Device " + string(p.id)
	if p.name != "" {
		header += fmt.Sprintf(" (%s)", p.name)
	}
	if _, err := fmt.Fprintln(w, title.Sprint(header)); err != nil {
		return err
	}
	if len(p.services) == 0 {
		_, err := fmt.Fprintln(w, "No services discovered")
		return err
	}

	for _, s := range p.services {
		fmt.Fprintf(w, "Service %s\n", s.uuid)
		for _, c := range s.characteristics {
			fmt.Fprintf(w, "  Characteristic %s [%s]%s\n", c.uuid, c.props, valueText(c.value, c.readErr))
			for _, d := range c.descriptors {
				fmt.Fprintf(w, "    Descriptor %s%s\n", d.uuid, valueText(d.value, d.readErr))
			}
		}
	}
	return nil
}

func (p *deviceProfile) toJSON() *orderedmap.OrderedMap[string, any] {
	valueFields := func(m *orderedmap.OrderedMap[string, any], value []byte, err error) {
		switch {
		case err != nil:
			m.Set("error", err.Error())
		case value != nil:
			m.Set("value", hex.EncodeToString(value))
		}
	}

	services := make([]*orderedmap.OrderedMap[string, any], 0, len(p.services))
	for _, s := range p.services {
		chars := make([]*orderedmap.OrderedMap[string, any], 0, len(s.characteristics))
		for _, c := range s.characteristics {
			descs := make([]*orderedmap.OrderedMap[string, any], 0, len(c.descriptors))
			for _, d := range c.descriptors {
				dm := orderedmap.New[string, any]()
				dm.Set("uuid", d.uuid.String())
				dm.Set("handle", d.handle)
				valueFields(dm, d.value, d.readErr)
				descs = append(descs, dm)
			}

			cm := orderedmap.New[string, any]()
			cm.Set("uuid", c.uuid.String())
			cm.Set("handle", c.handle)
			cm.Set("properties", c.props.Names())
			valueFields(cm, c.value, c.readErr)
			cm.Set("descriptors", descs)
			chars = append(chars, cm)
		}

		sm := orderedmap.New[string, any]()
		sm.Set("uuid", s.uuid.String())
		sm.Set("handle", s.handle)
		sm.Set("primary", s.primary)
		sm.Set("characteristics", chars)
		services = append(services, sm)
	}

	m := orderedmap.New[string, any]()
	m.Set("address", string(p.id))
	m.Set("name", p.name)
	m.Set("services", services)
	return m
}
