package bus

import (
	"context"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// GuestMemory is the guest's physical address space.
//
// Implementations must not hold internal locks while calling an IOHandler:
// a handler may block on a device round trip that itself issues DMA.
type GuestMemory interface {
	// ReadPhysical fills data from guest physical memory at addr.
	ReadPhysical(ctx context.Context, addr uint64, data []byte) error

	// WritePhysical stores data into guest physical memory at addr.
	WritePhysical(ctx context.Context, addr uint64, data []byte) error

	// MapIO redirects accesses inside region to h.
	MapIO(region wire.Region, h IOHandler) error

	// UnmapIO removes a region installed by MapIO.
	UnmapIO(region wire.Region) error
}

// IOHandler serves accesses to a memory-mapped region.
type IOHandler interface {
	ReadMMIO(ctx context.Context, addr uint64, data []byte) error
	WriteMMIO(ctx context.Context, addr uint64, data []byte) error
}

// InterruptController drives guest interrupt lines.
type InterruptController interface {
	SetIRQ(line uint32, level bool)
}

// Clock is the guest's virtual time source.
type Clock interface {
	// Now returns virtual time in nanoseconds.
	Now() uint64

	// NewTimer returns a timer that calls fn when virtual time reaches the
	// armed deadline. fn may run in any goroutine and must not block.
	NewTimer(fn func()) Timer

	// Freeze stops virtual time from advancing until Unfreeze.
	Freeze()

	// Unfreeze resumes virtual time.
	Unfreeze()
}

// Timer is a one-shot virtual-time timer.
type Timer interface {
	// Arm (re)schedules the timer. A previous deadline is replaced.
	Arm(deadline uint64)

	// Disarm cancels the timer.
	Disarm()
}

// Machine controls the guest as a whole.
type Machine interface {
	Pause()
	Shutdown()
}

// Host bundles the collaborators a Bus drives.
type Host struct {
	Memory  GuestMemory
	IRQ     InterruptController
	Clock   Clock
	Machine Machine
}
