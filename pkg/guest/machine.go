package guest

import (
	"sync"

	"github.com/cosim-bus/cosim-go/pkg/bus"
)

// Machine tracks whether the guest is running. Pausing freezes the
// attached clock, if any.
type Machine struct {
	clock *VirtualClock

	mu       sync.Mutex
	paused   bool
	shutdown bool
	done     chan struct{}
}

// NewMachine returns a running machine. clock may be nil.
func NewMachine(clock *VirtualClock) *Machine {
	return &Machine{clock: clock, done: make(chan struct{})}
}

// Pause implements bus.Machine.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused || m.shutdown {
		return
	}
	m.paused = true
	if m.clock != nil {
		m.clock.Freeze()
	}
}

// Resume undoes Pause. It has no effect after Shutdown.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused || m.shutdown {
		return
	}
	m.paused = false
	if m.clock != nil {
		m.clock.Unfreeze()
	}
}

// Shutdown implements bus.Machine. It closes Done once.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	m.shutdown = true
	close(m.done)
}

// Paused reports whether the machine is paused.
func (m *Machine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// IsShutdown reports whether Shutdown was called.
func (m *Machine) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Done is closed when the machine shuts down.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

var _ bus.Machine = (*Machine)(nil)
