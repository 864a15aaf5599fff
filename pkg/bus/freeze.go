package bus

import "sync"

// freezer reference-counts Clock.Freeze.
type freezer struct {
	mu    sync.Mutex
	depth int
	clock Clock
}

func (f *freezer) acquire() *FreezeGuard {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.depth == 0 {
		f.clock.Freeze()
	}
	f.depth++
	return &FreezeGuard{f: f}
}

func (f *freezer) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depth--
	if f.depth == 0 {
		f.clock.Unfreeze()
	}
}

func (f *freezer) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}

// FreezeGuard keeps virtual time frozen until released.
type FreezeGuard struct {
	f    *freezer
	once sync.Once
}

// Release drops the guard. Further calls do nothing.
func (g *FreezeGuard) Release() {
	g.once.Do(g.f.release)
}

// Freeze stops virtual time until the returned guard is released. Guards
// nest: the clock is frozen by the first and resumed by the last.
func (b *Bus) Freeze() *FreezeGuard {
	return b.freezer.acquire()
}

// FreezeDepth returns the number of unreleased guards.
func (b *Bus) FreezeDepth() int {
	return b.freezer.Depth()
}
