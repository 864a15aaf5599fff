package guest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cosim-bus/cosim-go/pkg/bus"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// PageSize is the allocation granule of guest RAM.
const PageSize = 4096

type mmioRegion struct {
	region  wire.Region
	handler bus.IOHandler
}

// Memory is sparse guest RAM in [base, base+size) plus MMIO windows.
// Pages are allocated on first write; unwritten RAM reads as zero.
// MMIO windows take precedence over RAM.
type Memory struct {
	base uint64
	size uint64

	mu      sync.RWMutex
	pages   map[uint64][]byte
	regions []mmioRegion // sorted by base
}

// NewMemory creates guest RAM of size bytes starting at base.
func NewMemory(base, size uint64) *Memory {
	return &Memory{
		base:  base,
		size:  size,
		pages: make(map[uint64][]byte),
	}
}

// RAM returns the RAM window.
func (m *Memory) RAM() wire.Region {
	return wire.Region{Base: m.base, Size: m.size}
}

// lookup finds the MMIO window for an access. A window that only partly
// covers the access is a length error.
func (m *Memory) lookup(addr uint64, n int) (bus.IOHandler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	access := wire.Region{Base: addr, Size: uint64(n)}
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].region.End() > addr
	})
	if i == len(m.regions) {
		return nil, nil
	}
	r := m.regions[i]
	if r.region.Contains(addr, uint64(n)) {
		return r.handler, nil
	}
	if n > 0 && r.region.Overlaps(access) {
		return nil, fmt.Errorf("%w: %#x+%d straddles %s", bus.ErrGuestLength, addr, n, r.region)
	}
	return nil, nil
}

func (m *Memory) checkRAM(addr uint64, n int) error {
	if addr < m.base || addr-m.base > m.size || uint64(n) > m.size-(addr-m.base) {
		return fmt.Errorf("%w: %#x+%d", bus.ErrGuestAddress, addr, n)
	}
	return nil
}

// ReadPhysical implements bus.GuestMemory.
func (m *Memory) ReadPhysical(ctx context.Context, addr uint64, data []byte) error {
	h, err := m.lookup(addr, len(data))
	if err != nil {
		return err
	}
	if h != nil {
		// Called without m.mu: the handler may block on a device that
		// DMAs back into this memory.
		return h.ReadMMIO(ctx, addr, data)
	}
	if err := m.checkRAM(addr, len(data)); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	m.forEachPage(addr, len(data), func(page, off uint64, pos, n int) {
		if p := m.pages[page]; p != nil {
			copy(data[pos:pos+n], p[off:])
		} else {
			clear(data[pos : pos+n])
		}
	})
	return nil
}

// WritePhysical implements bus.GuestMemory.
func (m *Memory) WritePhysical(ctx context.Context, addr uint64, data []byte) error {
	h, err := m.lookup(addr, len(data))
	if err != nil {
		return err
	}
	if h != nil {
		return h.WriteMMIO(ctx, addr, data)
	}
	if err := m.checkRAM(addr, len(data)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.forEachPage(addr, len(data), func(page, off uint64, pos, n int) {
		p := m.pages[page]
		if p == nil {
			p = make([]byte, PageSize)
			m.pages[page] = p
		}
		copy(p[off:], data[pos:pos+n])
	})
	return nil
}

// forEachPage splits [addr, addr+size) at page boundaries. fn receives the
// page number, the offset within it, and the matching slice of the access.
func (m *Memory) forEachPage(addr uint64, size int, fn func(page, off uint64, pos, n int)) {
	for pos := 0; pos < size; {
		a := addr + uint64(pos)
		off := a % PageSize
		n := min(PageSize-int(off), size-pos)
		fn(a/PageSize, off, pos, n)
		pos += n
	}
}

// MapIO implements bus.GuestMemory. Windows may not overlap each other.
func (m *Memory) MapIO(region wire.Region, h bus.IOHandler) error {
	if region.Size == 0 {
		return fmt.Errorf("%w: empty region", bus.ErrGuestLength)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.regions {
		if r.region.Overlaps(region) {
			return fmt.Errorf("%w: %s overlaps %s", bus.ErrRegionConflict, region, r.region)
		}
	}
	m.regions = append(m.regions, mmioRegion{region: region, handler: h})
	sort.Slice(m.regions, func(i, j int) bool {
		return m.regions[i].region.Base < m.regions[j].region.Base
	})
	return nil
}

// UnmapIO implements bus.GuestMemory.
func (m *Memory) UnmapIO(region wire.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.regions {
		if r.region == region {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s not mapped", bus.ErrGuestAddress, region)
}

// Regions returns the mapped MMIO windows in address order.
func (m *Memory) Regions() []wire.Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wire.Region, len(m.regions))
	for i, r := range m.regions {
		out[i] = r.region
	}
	return out
}

// ResidentPages returns the number of allocated RAM pages.
func (m *Memory) ResidentPages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

var _ bus.GuestMemory = (*Memory)(nil)
