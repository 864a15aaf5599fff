package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/transport"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// endpoint is one configured attach point.
type endpoint struct {
	config DeviceConfig
	server *transport.Server

	mu       sync.Mutex
	claimed  bool
	attached chan *Device
}

// claim reserves the endpoint for a registering device. Hotplug endpoints
// accept any number of devices.
func (ep *endpoint) claim() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.claimed && !ep.config.Hotplug {
		return false
	}
	ep.claimed = true
	return true
}

func (ep *endpoint) unclaim() {
	ep.mu.Lock()
	ep.claimed = false
	ep.mu.Unlock()
}

// Listen opens every configured attach point without waiting for
// devices. It runs once; later calls return nil.
func (b *Bus) Listen(ctx context.Context) error {
	b.endpointsMu.Lock()
	defer b.endpointsMu.Unlock()
	if b.listening {
		return nil
	}

	var eps []*endpoint
	for _, dc := range b.config.Devices {
		ep, err := b.listen(ctx, dc)
		if err != nil {
			b.stopEndpoints(eps)
			return err
		}
		eps = append(eps, ep)
	}
	b.endpoints = eps
	b.listening = true
	return nil
}

// Attach opens the attach points if Listen has not, waits until each has
// a registered device, then broadcasts Init.
func (b *Bus) Attach(ctx context.Context) error {
	if err := b.Listen(ctx); err != nil {
		return err
	}

	b.endpointsMu.Lock()
	eps := append([]*endpoint(nil), b.endpoints...)
	b.endpointsMu.Unlock()

	for _, ep := range eps {
		if err := b.waitAttached(ctx, ep); err != nil {
			return err
		}
	}
	return b.Init(ctx)
}

// Endpoints returns the listen addresses of the attach points, keyed by
// device name.
func (b *Bus) Endpoints() map[string]net.Addr {
	b.endpointsMu.Lock()
	defer b.endpointsMu.Unlock()
	out := make(map[string]net.Addr, len(b.endpoints))
	for _, ep := range b.endpoints {
		out[ep.config.Name] = ep.server.Addr()
	}
	return out
}

func (b *Bus) listen(ctx context.Context, dc DeviceConfig) (*endpoint, error) {
	addr, err := transport.ParseAddress(dc.Address)
	if err != nil {
		return nil, err
	}
	ep := &endpoint{config: dc, attached: make(chan *Device, 1)}
	srv, err := transport.NewServer(transport.ServerConfig{
		Address: addr,
		Channel: b.channelConfig(),
		OnConnect: func(ctx context.Context, ch *transport.Channel) {
			b.serveEndpoint(ctx, ep, ch)
		},
		OnError: func(err error) {
			b.logger.Error("attach point", "device", dc.Name, "error", err)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	ep.server = srv
	b.logger.Info("waiting for device", "device", dc.Name, "address", addr, "hotplug", dc.Hotplug)
	return ep, nil
}

func (b *Bus) stopEndpoints(eps []*endpoint) {
	for _, ep := range eps {
		ep.server.Stop()
	}
}

func (b *Bus) waitAttached(ctx context.Context, ep *endpoint) error {
	var timeout <-chan time.Time
	if ep.config.ConnectTimeout > 0 {
		t := time.NewTimer(ep.config.ConnectTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ep.attached:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: %s after %s", ErrAttachTimeout, ep.config.Name, ep.config.ConnectTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrAttachTimeout, ep.config.Name, ctx.Err())
	}
}

// serveEndpoint runs one accepted connection. It registers the device and
// then serves it until it closes.
func (b *Bus) serveEndpoint(ctx context.Context, ep *endpoint, ch *transport.Channel) {
	if !ep.claim() {
		b.logger.Warn("attach point already in use", "device", ep.config.Name, "remote", ch.RemoteAddr())
		return
	}

	dev, err := b.register(ctx, ch, ep.config.ConnectTimeout)
	if err != nil {
		ep.unclaim()
		return
	}

	select {
	case ep.attached <- dev:
	default:
	}

	dctx := withDispatch(context.WithoutCancel(ctx), dev)
	b.initLate(dctx, dev)
	b.serve(dctx, dev)
	if !ep.config.Hotplug {
		ep.unclaim()
	}
}

// Init broadcasts Init to every registered device, once.
func (b *Bus) Init(ctx context.Context) error {
	if b.initialized.Swap(true) {
		return nil
	}
	b.logLifecycle("INIT")

	// initialized is set before the registry snapshot, and a new device is
	// in the registry before its serve goroutine checks initialized, so
	// each device is reached by at least one path. claimInit picks one.
	var errs []error
	for _, dev := range b.registry.Devices() {
		if !dev.claimInit() {
			continue
		}
		if err := b.initDevice(ctx, dev, &wire.InitEvent{}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dev.Name, err))
		}
	}
	return errors.Join(errs...)
}

// initLate delivers Init to a device that registered after the broadcast
// started, unless the broadcast already reached it.
func (b *Bus) initLate(ctx context.Context, dev *Device) {
	if !b.initialized.Load() || !dev.claimInit() {
		return
	}
	if err := b.initDevice(ctx, dev, &wire.InitEvent{}); err != nil {
		b.logger.Warn("init failed", "device", dev.Name, "error", err)
	}
}

// Reset broadcasts Reset to every registered device.
func (b *Bus) Reset(ctx context.Context) error {
	b.logLifecycle("RESET")
	return b.broadcast(ctx, &wire.ResetEvent{})
}

// broadcast delivers ev to every device in registration order, each followed
// by a barrier round trip.
func (b *Bus) broadcast(ctx context.Context, ev wire.Packet) error {
	var errs []error
	for _, dev := range b.registry.Devices() {
		if err := b.initDevice(ctx, dev, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dev.Name, err))
		}
	}
	return errors.Join(errs...)
}

// initDevice sends ev and waits for a zero-length Read to complete, which
// proves the device has handled ev.
func (b *Bus) initDevice(ctx context.Context, dev *Device, ev wire.Packet) error {
	if err := dev.send(ev); err != nil {
		dev.close(err)
		return fmt.Errorf("%w: %v", ErrDeviceClosed, err)
	}
	_, err := b.SendAndWait(ctx, dev, &wire.ReadRequest{})
	return err
}

// Exit sends Exit to every device without waiting and closes them. Only
// the first call has an effect.
func (b *Bus) Exit() {
	b.exitOnce.Do(func() {
		b.logLifecycle("EXIT")
		for _, dev := range b.registry.Devices() {
			if err := dev.send(&wire.ExitEvent{}); err != nil {
				b.logger.Debug("exit not delivered", "device", dev.Name, "error", err)
			}
			dev.close(errBusExit)
		}
	})
}

var errBusExit = errors.New("bus exit")

// handleShutdown handles a Shutdown event. With a round trip in flight the
// request is deferred until the round trip returns.
func (b *Bus) handleShutdown(dev *Device) {
	if dev.deferShutdown() {
		b.logger.Info("shutdown deferred", "device", dev.Name)
		return
	}
	b.shutdownGuest(dev, "immediate")
}

func (b *Bus) shutdownGuest(dev *Device, mode string) {
	b.logger.Info("guest shutdown requested", "device", dev.Name, "mode", mode)
	b.logLifecycle("SHUTDOWN")
	b.host.Machine.Pause()
	b.host.Machine.Shutdown()
}

func (b *Bus) logLifecycle(state string) {
	b.config.ProtocolLogger.Log(log.Event{
		Timestamp:   time.Now(),
		Layer:       log.LayerBus,
		Category:    log.CategoryState,
		LocalRole:   log.RoleBus,
		VirtualTime: b.host.Clock.Now(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityLifecycle,
			NewState: state,
		},
	})
}
