package goble

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/groutine"
	"github.com/srg/gattkit/pkg/device"
)

// peerBackend is one remote device. It owns at most one go-ble client at a time.
type peerBackend struct {
	id      device.DeviceID
	adapter *adapterBackend
	logger  *logrus.Entry
	events  *device.Hub[device.PeerEvent]

	mu       sync.RWMutex
	client   GATTClient
	link     chan struct{} // closed when the current link ends
	services []*serviceBackend

	// known is the last discovered layout. It survives disconnects so Service Changed
	// ranges arriving on a new link still map to services.
	known          []*serviceBackend
	serviceChanged *ble.Characteristic
	armed          GATTClient // client the Service Changed subscription lives on
}

func newPeerBackend(id device.DeviceID, a *adapterBackend) *peerBackend {
	return &peerBackend{
		id:      id,
		adapter: a,
		logger:  a.logger.WithField("device", id),
		events:  device.NewHub[device.PeerEvent](device.DefaultHubBuffer),
	}
}

func (p *peerBackend) ID() device.DeviceID { return p.id }

func (p *peerBackend) Name(context.Context) (string, error) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client != nil {
		if name := client.Name(); name != "" {
			return name, nil
		}
	}
	adv, _ := p.adapter.seen.Get(p.id)
	return adv.LocalName, nil
}

func (p *peerBackend) IsConnected(context.Context) (bool, error) {
	return p.connected(), nil
}

func (p *peerBackend) connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}

// gatt returns the live client or a NotConnected error.
func (p *peerBackend) gatt(op string) (GATTClient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, device.NewError(device.NotConnected, "%s: device %s is not connected", op, p.id)
	}
	return p.client, nil
}

func (p *peerBackend) Connect(ctx context.Context) error {
	if p.connected() {
		return nil
	}

	p.logger.Debug("Dialing BLE device...")
	client, err := p.adapter.radio.Dial(ctx, ble.NewAddr(string(p.id)))
	if err != nil {
		if isAlreadyConnected(err) && p.connected() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.adapter.observe(NormalizeError("connect", err))
	}
	p.adapter.markPowered(true)

	p.mu.Lock()
	if p.client != nil {
		// Lost a race with a concurrent Connect; keep the first link.
		p.mu.Unlock()
		return nil
	}
	link := make(chan struct{})
	p.client, p.link, p.services = client, link, nil
	p.mu.Unlock()

	if n, ok := client.(disconnectNotifier); ok {
		groutine.Go(context.Background(), "goble-link-monitor", func(context.Context) {
			select {
			case <-n.Disconnected():
				p.logger.Warn("Link lost")
				p.dropLink(link)
			case <-link:
			}
		})
	} else {
		p.logger.Debug("Client does not report disconnections")
	}

	p.armServiceChanged(client)

	p.logger.Info("BLE device connected")
	p.events.Publish(device.PeerEvent{Kind: device.PeerConnected})
	return nil
}

func (p *peerBackend) Disconnect(ctx context.Context) error {
	p.mu.RLock()
	client, link := p.client, p.link
	p.mu.RUnlock()
	if client == nil {
		return nil
	}

	err := blockingErr(ctx, client.CancelConnection)
	p.dropLink(link)
	if err != nil {
		p.logger.WithError(err).Warn("BLE device disconnected with errors")
		return NormalizeError("disconnect", err)
	}
	p.logger.Info("BLE device disconnected")
	return nil
}

// dropLink forgets the link identified by link and reports the disconnection once.
func (p *peerBackend) dropLink(link chan struct{}) {
	p.mu.Lock()
	if p.link != link || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.client, p.link, p.services, p.armed = nil, nil, nil, nil
	close(link)
	p.mu.Unlock()

	p.events.Publish(device.PeerEvent{Kind: device.PeerDisconnected})
}

func (p *peerBackend) Events(ctx context.Context) (<-chan device.PeerEvent, error) {
	return p.events.Subscribe(ctx), nil
}

// ServiceUUIDs returns the services of the last discovery, or the advertised ones.
func (p *peerBackend) ServiceUUIDs(context.Context) ([]device.UUID, error) {
	p.mu.RLock()
	services := p.services
	p.mu.RUnlock()
	if len(services) > 0 {
		out := make([]device.UUID, 0, len(services))
		for _, s := range services {
			out = append(out, s.uuid)
		}
		return out, nil
	}
	adv, _ := p.adapter.seen.Get(p.id)
	return adv.Services, nil
}

// DiscoverServices runs a full profile discovery and subscribes to Service Changed
// indications when the peer exposes them.
func (p *peerBackend) DiscoverServices(ctx context.Context) ([]device.ServiceBackend, error) {
	client, err := p.gatt("discover services")
	if err != nil {
		return nil, err
	}
	profile, err := blocking(ctx, func() (*ble.Profile, error) { return client.DiscoverProfile(true) })
	if err != nil {
		return nil, NormalizeError("discover services", err)
	}

	services := make([]*serviceBackend, 0, len(profile.Services))
	for i, s := range profile.Services {
		u, err := device.ParseUUID(s.UUID.String())
		if err != nil {
			p.logger.WithField("uuid", s.UUID.String()).Debug("Skipping service with unparsable UUID")
			continue
		}
		services = append(services, &serviceBackend{
			peer:   p,
			svc:    s,
			uuid:   u,
			handle: handleOr(s.Handle, i),
			end:    s.EndHandle,
		})
	}

	p.mu.Lock()
	if p.client == client {
		p.services = services
		p.known = services
	}
	p.mu.Unlock()

	p.watchServiceChanged(client, services)

	out := make([]device.ServiceBackend, len(services))
	for i, s := range services {
		out[i] = s
	}
	p.logger.WithField("services", len(out)).Debug("Profile discovered")
	return out, nil
}

// watchServiceChanged remembers the Service Changed characteristic (0x2A05) of services and
// subscribes to it. Each indication carries the affected attribute handle range.
func (p *peerBackend) watchServiceChanged(client GATTClient, services []*serviceBackend) {
	for _, s := range services {
		if s.uuid != device.GenericAttributeServiceUUID {
			continue
		}
		for _, c := range s.svc.Characteristics {
			if u, err := device.ParseUUID(c.UUID.String()); err != nil || u != device.ServiceChangedUUID {
				continue
			}
			p.mu.Lock()
			if p.serviceChanged != c {
				p.serviceChanged = c
				if p.armed == client {
					p.armed = nil
				}
			}
			p.mu.Unlock()
			p.armServiceChanged(client)
			return
		}
	}
}

// armServiceChanged subscribes client to the known Service Changed characteristic unless
// that is already done for this link. Connect calls it so a new link is watched before
// the next discovery.
func (p *peerBackend) armServiceChanged(client GATTClient) {
	p.mu.Lock()
	c := p.serviceChanged
	if c == nil || p.armed == client || p.client != client {
		p.mu.Unlock()
		return
	}
	p.armed = client
	p.mu.Unlock()

	err := client.Subscribe(c, true, func(data []byte) {
		p.events.Publish(device.PeerEvent{
			Kind:    device.PeerServicesChanged,
			Handles: p.affectedServices(data),
		})
	})
	if err != nil {
		p.logger.WithError(err).Debug("Service Changed indications unavailable")
		p.mu.Lock()
		if p.armed == client {
			p.armed = nil
		}
		p.mu.Unlock()
	}
}

// affectedServices returns the start handles of known services overlapping the
// little-endian [start, end] range of a Service Changed indication. A malformed payload
// affects every service.
func (p *peerBackend) affectedServices(data []byte) []uint16 {
	if len(data) < 4 {
		return nil
	}
	start := binary.LittleEndian.Uint16(data[0:2])
	end := binary.LittleEndian.Uint16(data[2:4])

	p.mu.RLock()
	defer p.mu.RUnlock()
	handles := []uint16{}
	for _, s := range p.known {
		last := s.end
		if last == 0 {
			last = s.handle
		}
		if s.handle <= end && last >= start {
			handles = append(handles, s.handle)
		}
	}
	if len(handles) == 0 {
		// Nothing we know of is affected; report the start handle so the range is not
		// mistaken for "everything changed".
		handles = append(handles, start)
	}
	return handles
}

// handleOr substitutes index+1 for handles CoreBluetooth does not expose.
func handleOr(h uint16, index int) uint16 {
	if h != 0 {
		return h
	}
	return uint16(index + 1)
}
