package bus

import (
	"fmt"
	"sync"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Registry holds the registered devices in registration order.
type Registry struct {
	mu      sync.RWMutex
	devices []*Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends dev. It fails with ErrRegionConflict if one of dev's iomem
// regions overlaps a region of an already registered device.
func (r *Registry) Add(dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, other := range r.devices {
		if other == dev {
			return nil
		}
		for _, mine := range dev.IOMem {
			for _, theirs := range other.IOMem {
				if mine.Overlaps(theirs) {
					return fmt.Errorf("%w: %s %s overlaps %s %s",
						ErrRegionConflict, dev.Name, mine, other.Name, theirs)
				}
			}
		}
	}
	r.devices = append(r.devices, dev)
	return nil
}

// Remove deletes dev, preserving the order of the others.
// Returns false if dev was not registered.
func (r *Registry) Remove(dev *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, d := range r.devices {
		if d == dev {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			return true
		}
	}
	return false
}

// Devices returns a snapshot in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Lookup returns the first device registered under name.
func (r *Registry) Lookup(name string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// FindRegion returns the device owning addr and the matching region.
func (r *Registry) FindRegion(addr uint64) (*Device, wire.Region, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		for _, reg := range d.IOMem {
			if reg.Contains(addr, 1) {
				return d, reg, true
			}
		}
	}
	return nil, wire.Region{}, false
}
