package bus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/transport"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Status is the connection status of a device.
type Status uint8

const (
	// StatusConnecting - transport is up, Register not yet accepted.
	StatusConnecting Status = iota

	// StatusRegistered - registration complete, device is live.
	StatusRegistered

	// StatusClosed - terminal.
	StatusClosed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusRegistered:
		return "REGISTERED"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// RequestState reports whether a device has a round trip outstanding.
type RequestState struct {
	Awaiting bool
	ID       uint32
}

// String returns "IDLE" or "AWAITING(id)".
func (s RequestState) String() string {
	if !s.Awaiting {
		return "IDLE"
	}
	return "AWAITING(" + strconv.FormatUint(uint64(s.ID), 10) + ")"
}

// Device is one attached peer.
//
// The descriptor fields are set at registration and never change.
type Device struct {
	Name       string
	BusVersion uint32
	Endianness wire.Endianness
	IOMem      []wire.Region
	SharedMem  []wire.SharedRegion

	bus *Bus
	ch  transport.PacketConn

	// valueOrder converts MMIO values to and from bytes.
	valueOrder wire.ByteOrder

	mu     sync.Mutex
	status Status

	// reqSlot admits one top-level round trip at a time.
	reqSlot chan struct{}

	pendingMu sync.Mutex
	pending   map[uint32]chan wire.Response
	awaiting  []uint32

	// Round trips in progress and a deferred shutdown request.
	rtMu              sync.Mutex
	roundTrips        int
	shutdownRequested bool

	// readDeadline is the deadline of the innermost pump. Only the
	// dispatch goroutine touches it.
	readDeadline time.Time

	// initSent is set by whichever path delivers Init first.
	initSent atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	connectedAt time.Time
}

func newDevice(b *Bus, ch transport.PacketConn) *Device {
	return &Device{
		bus:         b,
		ch:          ch,
		status:      StatusConnecting,
		reqSlot:     make(chan struct{}, 1),
		pending:     make(map[uint32]chan wire.Response),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
}

// Status returns the connection status.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Device) setStatus(s Status) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.status
	d.status = s
	return old
}

// RequestState returns the innermost outstanding round trip, if any.
func (d *Device) RequestState() RequestState {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if len(d.awaiting) == 0 {
		return RequestState{}
	}
	return RequestState{Awaiting: true, ID: d.awaiting[len(d.awaiting)-1]}
}

// ShutdownRequested reports whether a deferred shutdown is pending.
func (d *Device) ShutdownRequested() bool {
	d.rtMu.Lock()
	defer d.rtMu.Unlock()
	return d.shutdownRequested
}

// Done is closed when the device is closed.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// Err returns why the device was closed, or nil while it is live.
func (d *Device) Err() error {
	select {
	case <-d.done:
		return d.closeErr
	default:
		return nil
	}
}

// claimInit reports whether the caller is the one to deliver Init.
func (d *Device) claimInit() bool {
	return d.initSent.CompareAndSwap(false, true)
}

// ConnectionID returns the transport connection identifier.
func (d *Device) ConnectionID() string {
	return d.ch.ID()
}

// Owns reports whether one of the device's iomem regions contains
// [addr, addr+length).
func (d *Device) Owns(addr, length uint64) bool {
	for _, r := range d.IOMem {
		if r.Contains(addr, length) {
			return true
		}
	}
	return false
}

func (d *Device) send(p wire.Packet) error {
	return d.ch.Send(p)
}

// beginWait records id as awaited. If respCh is non-nil the dispatch
// goroutine delivers the response there.
func (d *Device) beginWait(id uint32, respCh chan wire.Response) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if respCh != nil {
		d.pending[id] = respCh
	}
	d.awaiting = append(d.awaiting, id)
}

func (d *Device) endWait(id uint32) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	delete(d.pending, id)
	for i := len(d.awaiting) - 1; i >= 0; i-- {
		if d.awaiting[i] == id {
			d.awaiting = append(d.awaiting[:i], d.awaiting[i+1:]...)
			break
		}
	}
}

// resolve hands resp to its waiter. It reports false for unknown ids.
func (d *Device) resolve(resp wire.Response) bool {
	d.pendingMu.Lock()
	ch, ok := d.pending[resp.ResponseID()]
	if ok {
		delete(d.pending, resp.ResponseID())
	}
	d.pendingMu.Unlock()

	if ok {
		ch <- resp // buffered, one response per id
	}
	return ok
}

// acquire takes the top-level request slot.
func (d *Device) acquire(ctx context.Context) error {
	select {
	case d.reqSlot <- struct{}{}:
		return nil
	case <-d.done:
		return ErrDeviceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) release() {
	<-d.reqSlot
}

func (d *Device) beginRoundTrip() {
	d.rtMu.Lock()
	d.roundTrips++
	d.rtMu.Unlock()
}

// endRoundTrip reports whether a shutdown deferred during the round trip
// must be honored now.
func (d *Device) endRoundTrip() bool {
	d.rtMu.Lock()
	defer d.rtMu.Unlock()
	d.roundTrips--
	if d.roundTrips == 0 && d.shutdownRequested {
		d.shutdownRequested = false
		return true
	}
	return false
}

// deferShutdown sets the shutdown flag if a round trip is in flight and
// reports whether it did.
func (d *Device) deferShutdown() bool {
	d.rtMu.Lock()
	defer d.rtMu.Unlock()
	if d.roundTrips > 0 {
		d.shutdownRequested = true
		return true
	}
	return false
}

// close tears the device down once. Done is closed after the device has
// left the registry, the scheduler and guest memory.
func (d *Device) close(reason error) {
	d.closeOnce.Do(func() {
		old := d.setStatus(StatusClosed)
		d.closeErr = reason
		d.ch.Close()
		d.bus.detach(d, old, reason)
		close(d.done)
	})
}

func (d *Device) logState(oldState, newState, reason string) {
	d.bus.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.ch.ID(),
		Layer:        log.LayerBus,
		Category:     log.CategoryState,
		LocalRole:    log.RoleBus,
		DeviceName:   d.Name,
		VirtualTime:  d.bus.host.Clock.Now(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
