package guest

import "github.com/cosim-bus/cosim-go/pkg/bus"

// Board is a complete reference guest.
type Board struct {
	Memory  *Memory
	PIC     *PIC
	Clock   *VirtualClock
	Machine *Machine
}

// NewBoard builds a guest with ramSize bytes of RAM at ramBase and irqs
// interrupt lines.
func NewBoard(ramBase, ramSize uint64, irqs uint32) *Board {
	clock := NewVirtualClock()
	return &Board{
		Memory:  NewMemory(ramBase, ramSize),
		PIC:     NewPIC(irqs),
		Clock:   clock,
		Machine: NewMachine(clock),
	}
}

// Host returns the board as the collaborator set a bus drives.
func (b *Board) Host() bus.Host {
	return bus.Host{
		Memory:  b.Memory,
		IRQ:     b.PIC,
		Clock:   b.Clock,
		Machine: b.Machine,
	}
}
