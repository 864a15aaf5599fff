package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/transport"
	"github.com/cosim-bus/cosim-go/pkg/version"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Bus is the host side of the co-simulation bus. One Bus owns every device
// attached to one guest.
type Bus struct {
	config Config
	host   Host
	logger *slog.Logger

	registry  *Registry
	scheduler *Scheduler
	freezer   *freezer

	// lastID is the request id counter shared by all devices.
	lastID atomic.Uint32

	initialized atomic.Bool
	closed      atomic.Bool
	exitOnce    sync.Once

	endpointsMu sync.Mutex
	endpoints   []*endpoint
	listening   bool

	wg sync.WaitGroup
}

// New creates a bus driving host. Call Start before attaching devices.
func New(config Config, host Host) (*Bus, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if host.Memory == nil || host.IRQ == nil || host.Clock == nil || host.Machine == nil {
		return nil, fmt.Errorf("%w: all host collaborators are required", ErrInvalidConfig)
	}
	config.applyDefaults()

	b := &Bus{
		config:   config,
		host:     host,
		logger:   config.Logger,
		registry: NewRegistry(),
		freezer:  &freezer{clock: host.Clock},
	}
	b.scheduler = NewScheduler(host.Clock, b.deliverTrigger, config.Logger)
	return b, nil
}

// Start launches the scheduler worker.
func (b *Bus) Start() {
	b.scheduler.Start()
}

// Close broadcasts Exit, stops every attach point and waits for all device
// goroutines.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.Exit()

	b.endpointsMu.Lock()
	eps := b.endpoints
	b.endpoints = nil
	b.endpointsMu.Unlock()

	var errs []error
	for _, ep := range eps {
		if err := ep.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	b.scheduler.Stop()
	return errors.Join(errs...)
}

// Registry returns the device registry.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Scheduler returns the event scheduler.
func (b *Bus) Scheduler() *Scheduler {
	return b.scheduler
}

// Config returns the effective configuration.
func (b *Bus) Config() Config {
	return b.config
}

// nextRequestID returns a fresh id. Zero is never issued.
func (b *Bus) nextRequestID() uint32 {
	for {
		if id := b.lastID.Add(1); id != 0 {
			return id
		}
	}
}

func (b *Bus) channelConfig() transport.ChannelConfig {
	return transport.ChannelConfig{
		MaxPacketSize: b.config.MaxPacketSize,
		WriteTimeout:  b.config.WriteTimeout,
		Logger:        b.config.ProtocolLogger,
		Role:          log.RoleBus,
	}
}

// AttachConn registers the device on conn and serves it in a new goroutine.
// It returns once registration succeeded or failed.
func (b *Bus) AttachConn(ctx context.Context, conn net.Conn) (*Device, error) {
	ch := transport.NewChannel(conn, b.channelConfig())
	dev, err := b.register(ctx, ch, 0)
	if err != nil {
		ch.Close()
		return nil, err
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		dctx := withDispatch(context.Background(), dev)
		b.initLate(dctx, dev)
		b.serve(dctx, dev)
	}()
	return dev, nil
}

// register runs the handshake: exactly one Register request whose version
// matches. Any failure drops the connection without a reply.
func (b *Bus) register(ctx context.Context, ch transport.PacketConn, timeout time.Duration) (*Device, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	dev := newDevice(b, ch)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := ch.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { ch.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()

	p, err := ch.Next()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w: no Register received", ErrAttachTimeout)
		}
		return nil, fmt.Errorf("waiting for Register: %w", err)
	}
	ch.SetReadDeadline(time.Time{})

	req, ok := p.(*wire.RegisterRequest)
	if !ok {
		return nil, b.reject(dev, &ProtocolError{Packet: wire.Summary(p), Err: ErrNotRegistered})
	}
	if req.BusVersion != b.config.BusVersion {
		return nil, b.reject(dev, &ProtocolError{
			Device: req.Name,
			Packet: wire.Summary(p),
			Err: fmt.Errorf("%w: device %s, bus %s", ErrVersionMismatch,
				version.Describe(req.BusVersion), version.Describe(b.config.BusVersion)),
		})
	}
	if err := validateRegions(req); err != nil {
		return nil, b.reject(dev, &ProtocolError{Device: req.Name, Packet: wire.Summary(p), Err: err})
	}

	dev.Name = req.Name
	dev.BusVersion = req.BusVersion
	dev.Endianness = req.Endianness.Resolve()
	dev.IOMem = append([]wire.Region(nil), req.IOMem...)
	dev.SharedMem = append([]wire.SharedRegion(nil), req.SharedMem...)
	dev.valueOrder = dev.Endianness.ByteOrder()
	if named, ok := ch.(interface{ SetPeerName(string) }); ok {
		named.SetPeerName(dev.Name)
	}

	if err := b.registry.Add(dev); err != nil {
		return nil, b.reject(dev, &ProtocolError{Device: dev.Name, Packet: wire.Summary(p), Err: err})
	}
	var mapped []wire.Region
	rollback := func() {
		for _, m := range mapped {
			b.host.Memory.UnmapIO(m)
		}
		b.registry.Remove(dev)
	}
	for _, r := range dev.IOMem {
		if err := b.host.Memory.MapIO(r, dev); err != nil {
			rollback()
			return nil, b.reject(dev, &ProtocolError{
				Device: dev.Name,
				Packet: wire.Summary(p),
				Err:    fmt.Errorf("%w: mapping %s: %v", ErrRegionConflict, r, err),
			})
		}
		mapped = append(mapped, r)
	}

	order := b.config.WireEndianness.ByteOrder()
	resp := &wire.EndiannessResponse{ID: req.ID, Endianness: b.config.WireEndianness}
	if err := ch.SendWithOrder(wire.HandshakeOrder, resp); err != nil {
		rollback()
		dev.setStatus(StatusClosed)
		return nil, fmt.Errorf("sending Endianness: %w", err)
	}
	ch.SetOrder(order)
	dev.setStatus(StatusRegistered)

	b.logger.Info("device registered",
		"device", dev.Name,
		"conn", ch.ID(),
		"version", version.Describe(dev.BusVersion),
		"endianness", dev.Endianness,
		"iomem", len(dev.IOMem),
		"sharedMem", len(dev.SharedMem))
	dev.logState(StatusConnecting.String(), StatusRegistered.String(), "")
	return dev, nil
}

func validateRegions(req *wire.RegisterRequest) error {
	if !req.Endianness.Valid() {
		return fmt.Errorf("invalid endianness %d", req.Endianness)
	}
	for i, r := range req.IOMem {
		if r.Size == 0 {
			return fmt.Errorf("%w: iomem %d has zero size", ErrRegionConflict, i)
		}
		if r.End() < r.Base {
			return fmt.Errorf("%w: iomem %s wraps the address space", ErrRegionConflict, r)
		}
		for _, o := range req.IOMem[:i] {
			if r.Overlaps(o) {
				return fmt.Errorf("%w: iomem %s overlaps %s", ErrRegionConflict, r, o)
			}
		}
	}
	for i, s := range req.SharedMem {
		if s.Name == "" || s.Size == 0 {
			return fmt.Errorf("%w: shared memory %d needs a name and a size", ErrRegionConflict, i)
		}
	}
	return nil
}

// reject logs a failed registration. No response is sent.
func (b *Bus) reject(dev *Device, err error) error {
	dev.setStatus(StatusClosed)
	b.logger.Warn("registration rejected", "conn", dev.ch.ID(), "error", err)
	b.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: dev.ch.ID(),
		Layer:        log.LayerBus,
		Category:     log.CategoryError,
		LocalRole:    log.RoleBus,
		Error: &log.ErrorEventData{
			Layer:   log.LayerBus,
			Message: err.Error(),
			Context: "register",
		},
	})
	return err
}

// serve is the dispatch loop of one device. It returns when the device is
// closed.
func (b *Bus) serve(ctx context.Context, dev *Device) {
	ctx = withDispatch(ctx, dev)
	for {
		p, err := dev.ch.Next()
		if err != nil {
			dev.close(err)
			return
		}
		b.dispatch(ctx, dev, p)
		if dev.Status() == StatusClosed {
			return
		}
	}
}

// detach removes a closed device from every structure it is part of.
func (b *Bus) detach(dev *Device, old Status, reason error) {
	if old != StatusRegistered {
		return
	}
	b.registry.Remove(dev)
	dropped := b.scheduler.RemoveDevice(dev)
	for _, r := range dev.IOMem {
		if err := b.host.Memory.UnmapIO(r); err != nil {
			b.logger.Warn("unmap failed", "device", dev.Name, "region", r, "error", err)
		}
	}

	reasonText := ""
	if reason != nil {
		reasonText = reason.Error()
	}
	b.logger.Info("device closed", "device", dev.Name, "reason", reasonText, "droppedEvents", dropped)
	dev.logState(old.String(), StatusClosed.String(), reasonText)
}

func (b *Bus) deliverTrigger(ev PendingEvent) error {
	if ev.Device.Status() != StatusRegistered {
		return ErrDeviceClosed
	}
	return ev.Device.send(triggerFor(ev))
}
