package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cosim-bus/cosim-go/pkg/peer"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Register offsets from the region base. All registers are 32 bits wide.
const (
	RegCtrl    = 0x0
	RegPeriod  = 0x4
	RegCount   = 0x8
	RegScratch = 0xC

	// RegionSize is the smallest region holding every register.
	RegionSize = 0x10
)

// CTRL bits.
const (
	CtrlEnable    uint32 = 1 << 0
	CtrlIRQEnable uint32 = 1 << 1
)

// timerEventID tags the timer's scheduled events.
const timerEventID = 1

// timerBus is the part of peer.Client the timer drives.
type timerBus interface {
	SetIRQ(line uint32, level wire.IRQLevel) error
	RegisterEvent(expire uint64, eventID uint32, payload uint64) error
	GetTime(ctx context.Context) (uint64, error)
}

// Registers is a snapshot of the timer's register file.
type Registers struct {
	Ctrl    uint32
	Period  uint32
	Count   uint32
	Scratch uint32
}

// Timer is a periodic timer peripheral. While enabled it schedules a bus
// event every PERIOD nanoseconds of virtual time, increments COUNT and
// pulses its interrupt line when CTRL.IRQ_ENABLE is set.
//
// Each (re)arm bumps a generation carried in the event payload so that
// triggers scheduled before a reconfiguration are ignored.
type Timer struct {
	base  uint64
	line  uint32
	order binary.ByteOrder

	logger *slog.Logger

	mu         sync.Mutex
	bus        timerBus
	regs       Registers
	generation uint64
}

// NewTimer creates a timer decoding at base with values in order.
func NewTimer(base uint64, line uint32, order binary.ByteOrder, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{base: base, line: line, order: order, logger: logger}
}

// Region returns the timer's iomem region.
func (t *Timer) Region() wire.Region {
	return wire.Region{Base: t.base, Size: RegionSize}
}

// Attach sets the bus used to schedule events and raise interrupts.
func (t *Timer) Attach(bus timerBus) {
	t.mu.Lock()
	t.bus = bus
	t.mu.Unlock()
}

// Registers returns a snapshot of the register file.
func (t *Timer) Registers() Registers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs
}

func (t *Timer) offset(addr uint64, data []byte) (uint64, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: %d byte access", peer.ErrLength, len(data))
	}
	off := addr - t.base
	if addr < t.base || off >= RegionSize || off%4 != 0 {
		return 0, fmt.Errorf("%w: %#x", peer.ErrAddress, addr)
	}
	return off, nil
}

// ReadRegister implements peer.Handler.
func (t *Timer) ReadRegister(_ context.Context, addr uint64, data []byte) error {
	off, err := t.offset(addr, data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var v uint32
	switch off {
	case RegCtrl:
		v = t.regs.Ctrl
	case RegPeriod:
		v = t.regs.Period
	case RegCount:
		v = t.regs.Count
	case RegScratch:
		v = t.regs.Scratch
	}
	t.order.PutUint32(data, v)
	return nil
}

// WriteRegister implements peer.Handler. Writing CTRL or PERIOD while the
// timer is enabled restarts the period from the current virtual time.
func (t *Timer) WriteRegister(ctx context.Context, addr uint64, data []byte) error {
	off, err := t.offset(addr, data)
	if err != nil {
		return err
	}
	v := t.order.Uint32(data)

	t.mu.Lock()
	rearm := false
	switch off {
	case RegCtrl:
		t.regs.Ctrl = v & (CtrlEnable | CtrlIRQEnable)
		rearm = true
	case RegPeriod:
		t.regs.Period = v
		rearm = t.regs.Ctrl&CtrlEnable != 0
	case RegCount:
		t.regs.Count = v
	case RegScratch:
		t.regs.Scratch = v
	}
	if !rearm {
		t.mu.Unlock()
		return nil
	}
	t.generation++
	gen, period, enabled, bus := t.generation, t.regs.Period, t.regs.Ctrl&CtrlEnable != 0, t.bus
	t.mu.Unlock()

	if !enabled || period == 0 {
		return nil
	}
	if bus == nil {
		return peer.ErrState
	}
	now, err := bus.GetTime(ctx)
	if err != nil {
		return fmt.Errorf("read virtual time: %w", err)
	}
	return t.schedule(bus, now+uint64(period), gen)
}

func (t *Timer) schedule(bus timerBus, expire, gen uint64) error {
	if err := bus.RegisterEvent(expire, timerEventID, gen); err != nil {
		return fmt.Errorf("schedule expiry: %w", err)
	}
	t.logger.Debug("timer armed", "expire_ns", expire, "generation", gen)
	return nil
}

// Trigger implements peer.EventHandler.
func (t *Timer) Trigger(_ context.Context, ev peer.Trigger) {
	if ev.EventID != timerEventID {
		return
	}

	t.mu.Lock()
	if ev.Payload != t.generation || t.regs.Ctrl&CtrlEnable == 0 || t.regs.Period == 0 {
		t.mu.Unlock()
		return
	}
	t.regs.Count++
	irq := t.regs.Ctrl&CtrlIRQEnable != 0
	period, gen, bus := t.regs.Period, t.generation, t.bus
	t.mu.Unlock()

	if bus == nil {
		return
	}
	if irq {
		if err := bus.SetIRQ(t.line, wire.IRQPulse); err != nil {
			t.logger.Warn("irq pulse failed", "line", t.line, "error", err)
		}
	}
	// Re-arm from the expiry, not the delivery time, so the period does
	// not drift.
	if err := t.schedule(bus, ev.ExpireTime+uint64(period), gen); err != nil {
		t.logger.Warn("timer re-arm failed", "error", err)
	}
}

// Init implements peer.LifecycleHandler.
func (t *Timer) Init(context.Context) {
	t.logger.Info("guest initialised")
}

// Reset implements peer.LifecycleHandler. All registers return to zero
// and pending expiries are invalidated.
func (t *Timer) Reset(context.Context) {
	t.mu.Lock()
	t.regs = Registers{}
	t.generation++
	t.mu.Unlock()
	t.logger.Info("timer reset")
}

// Exit implements peer.LifecycleHandler.
func (t *Timer) Exit(context.Context) {
	t.logger.Info("guest exited")
}

var (
	_ peer.Handler          = (*Timer)(nil)
	_ peer.EventHandler     = (*Timer)(nil)
	_ peer.LifecycleHandler = (*Timer)(nil)
)
