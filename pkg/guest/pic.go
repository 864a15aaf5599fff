package guest

import (
	"sync"

	"github.com/cosim-bus/cosim-go/pkg/bus"
)

// PIC is a level-triggered interrupt controller with a fixed number of
// lines. OnChange, when set, is called on every level transition without
// the controller's lock held.
type PIC struct {
	OnChange func(line uint32, level bool)

	mu     sync.Mutex
	levels []bool
	rising []uint64
}

// NewPIC creates a controller with n lines, all low.
func NewPIC(n uint32) *PIC {
	return &PIC{
		levels: make([]bool, n),
		rising: make([]uint64, n),
	}
}

// SetIRQ implements bus.InterruptController. Lines beyond the controller
// are ignored.
func (p *PIC) SetIRQ(line uint32, level bool) {
	p.mu.Lock()
	if int(line) >= len(p.levels) || p.levels[line] == level {
		p.mu.Unlock()
		return
	}
	p.levels[line] = level
	if level {
		p.rising[line]++
	}
	cb := p.OnChange
	p.mu.Unlock()

	if cb != nil {
		cb(line, level)
	}
}

// Level returns the current level of line.
func (p *PIC) Level(line uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(line) < len(p.levels) && p.levels[line]
}

// Edges returns how many times line went from low to high.
func (p *PIC) Edges(line uint32) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(line) >= len(p.rising) {
		return 0
	}
	return p.rising[line]
}

// Raised returns the lines currently held high.
func (p *PIC) Raised() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint32
	for i, l := range p.levels {
		if l {
			out = append(out, uint32(i))
		}
	}
	return out
}

var _ bus.InterruptController = (*PIC)(nil)
