package bus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosim-bus/cosim-go/pkg/bus/mocks"
	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/transport"
	"github.com/cosim-bus/cosim-go/pkg/version"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// fakeClock is a manually advanced virtual clock.
type fakeClock struct {
	mu        sync.Mutex
	now       uint64
	freezes   int
	unfreezes int
	timers    []*fakeTimer
}

func (c *fakeClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Freeze() {
	c.mu.Lock()
	c.freezes++
	c.mu.Unlock()
}

func (c *fakeClock) Unfreeze() {
	c.mu.Lock()
	c.unfreezes++
	c.mu.Unlock()
}

func (c *fakeClock) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freezes, c.unfreezes
}

// AdvanceTo moves time forward and fires due timers.
func (c *fakeClock) AdvanceTo(t uint64) {
	c.mu.Lock()
	c.now = t
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	for _, tm := range timers {
		tm.fireIfDue(t)
	}
}

type fakeTimer struct {
	mu       sync.Mutex
	fn       func()
	armed    bool
	deadline uint64
}

func (t *fakeTimer) Arm(deadline uint64) {
	t.mu.Lock()
	t.armed, t.deadline = true, deadline
	t.mu.Unlock()
}

func (t *fakeTimer) Disarm() {
	t.mu.Lock()
	t.armed = false
	t.mu.Unlock()
}

func (t *fakeTimer) state() (bool, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed, t.deadline
}

func (t *fakeTimer) fireIfDue(now uint64) {
	t.mu.Lock()
	due := t.armed && t.deadline <= now
	if due {
		t.armed = false
	}
	t.mu.Unlock()
	if due {
		t.fn()
	}
}

// fakeMemory is flat RAM at address 0 plus MMIO regions.
type fakeMemory struct {
	mu      sync.Mutex
	ram     []byte
	regions map[wire.Region]IOHandler
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{ram: make([]byte, size), regions: make(map[wire.Region]IOHandler)}
}

func (m *fakeMemory) lookup(addr uint64, n int) (IOHandler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r, h := range m.regions {
		if r.Contains(addr, uint64(n)) {
			return h, true
		}
	}
	return nil, false
}

func (m *fakeMemory) ReadPhysical(ctx context.Context, addr uint64, data []byte) error {
	if h, ok := m.lookup(addr, len(data)); ok {
		return h.ReadMMIO(ctx, addr, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr+uint64(len(data)) > uint64(len(m.ram)) {
		return fmt.Errorf("%w: %#x", ErrGuestAddress, addr)
	}
	copy(data, m.ram[addr:])
	return nil
}

func (m *fakeMemory) WritePhysical(ctx context.Context, addr uint64, data []byte) error {
	if h, ok := m.lookup(addr, len(data)); ok {
		return h.WriteMMIO(ctx, addr, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr+uint64(len(data)) > uint64(len(m.ram)) {
		return fmt.Errorf("%w: %#x", ErrGuestAddress, addr)
	}
	copy(m.ram[addr:], data)
	return nil
}

func (m *fakeMemory) MapIO(region wire.Region, h IOHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[region] = h
	return nil
}

func (m *fakeMemory) UnmapIO(region wire.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, region)
	return nil
}

func (m *fakeMemory) mapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

type testHost struct {
	mem     *fakeMemory
	irq     *mocks.MockInterruptController
	clock   *fakeClock
	machine *mocks.MockMachine
}

func newTestBus(t *testing.T, mutate func(*Config)) (*Bus, *testHost) {
	t.Helper()
	h := &testHost{
		mem:     newFakeMemory(0x1000),
		irq:     mocks.NewMockInterruptController(t),
		clock:   &fakeClock{},
		machine: mocks.NewMockMachine(t),
	}
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := New(cfg, Host{Memory: h.mem, IRQ: h.irq, Clock: h.clock, Machine: h.machine})
	require.NoError(t, err)
	b.Start()
	t.Cleanup(func() { b.Close() })
	return b, h
}

// socketPair returns two ends of a loopback TCP connection. Unlike
// net.Pipe, writes are buffered by the kernel.
func socketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server, client
}

func registerRequest(name string, regions ...wire.Region) *wire.RegisterRequest {
	return &wire.RegisterRequest{
		ID:         100,
		BusVersion: version.BusVersion,
		Name:       name,
		Endianness: wire.EndianLittle,
		IOMem:      regions,
	}
}

// attachPeer registers a scripted device and returns both sides.
func attachPeer(t *testing.T, b *Bus, req *wire.RegisterRequest) (*Device, *transport.Channel) {
	t.Helper()
	busSide, peerSide := socketPair(t)
	peer := transport.NewChannel(peerSide, transport.ChannelConfig{})
	t.Cleanup(func() { peer.Close() })

	require.NoError(t, peer.SendWithOrder(wire.HandshakeOrder, req))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dev, err := b.AttachConn(ctx, busSide)
	require.NoError(t, err)

	p := next(t, peer)
	resp, ok := p.(*wire.EndiannessResponse)
	require.True(t, ok, "got %s", wire.Summary(p))
	require.Equal(t, req.ID, resp.ID)
	peer.SetOrder(resp.Endianness.ByteOrder())
	return dev, peer
}

// next reads one packet with a deadline.
func next(t *testing.T, ch *transport.Channel) wire.Packet {
	t.Helper()
	require.NoError(t, ch.SetReadDeadline(time.Now().Add(2*time.Second)))
	p, err := ch.Next()
	require.NoError(t, err)
	return p
}

// expectSilence asserts nothing arrives within d.
func expectSilence(t *testing.T, ch *transport.Channel, d time.Duration) {
	t.Helper()
	require.NoError(t, ch.SetReadDeadline(time.Now().Add(d)))
	p, err := ch.Next()
	require.Error(t, err, "unexpected packet %s", wire.Summary(p))
	ch.SetReadDeadline(time.Time{})
}

// answerBarrier answers the zero-length Read that follows Init/Reset.
func answerBarrier(t *testing.T, ch *transport.Channel) {
	t.Helper()
	p := next(t, ch)
	rd, ok := p.(*wire.ReadRequest)
	require.True(t, ok, "got %s", wire.Summary(p))
	require.Zero(t, rd.Length)
	require.NoError(t, ch.Send(&wire.DataResponse{ID: rd.ID, Data: []byte{}}))
}

// captureLogger records protocol capture events.
type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureLogger) snapshot() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]log.Event(nil), c.events...)
}

var (
	_ GuestMemory = (*fakeMemory)(nil)
	_ Clock       = (*fakeClock)(nil)
)
