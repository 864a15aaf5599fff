package peer

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/transport"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// socketPair returns two ends of a loopback TCP connection.
func socketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// fakeBus is the bus end of a connection, driven by the test.
type fakeBus struct {
	t  *testing.T
	ch *transport.Channel
}

func (b *fakeBus) next() wire.Packet {
	b.t.Helper()
	b.ch.SetReadDeadline(time.Now().Add(2 * time.Second))
	p, err := b.ch.Next()
	require.NoError(b.t, err)
	return p
}

func (b *fakeBus) send(p wire.Packet) {
	b.t.Helper()
	require.NoError(b.t, b.ch.Send(p))
}

// recordingDevice records every callback in order.
type recordingDevice struct {
	mu     sync.Mutex
	calls  []string
	regs   map[uint64][]byte
	onRead func(ctx context.Context, addr uint64, data []byte) error
}

func (d *recordingDevice) record(s string) {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	d.mu.Unlock()
}

func (d *recordingDevice) history() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *recordingDevice) reg(addr uint64) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[addr]
}

func (d *recordingDevice) ReadRegister(ctx context.Context, addr uint64, data []byte) error {
	d.record("read")
	if d.onRead != nil {
		return d.onRead(ctx, addr, data)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.regs[addr]
	if !ok {
		return ErrAddress
	}
	if len(v) != len(data) {
		return ErrLength
	}
	copy(data, v)
	return nil
}

func (d *recordingDevice) WriteRegister(_ context.Context, addr uint64, data []byte) error {
	d.record("write")
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr == 0xDEAD {
		return ErrState
	}
	if d.regs == nil {
		d.regs = make(map[uint64][]byte)
	}
	d.regs[addr] = append([]byte(nil), data...)
	return nil
}

func (d *recordingDevice) Init(context.Context)  { d.record("init") }
func (d *recordingDevice) Reset(context.Context) { d.record("reset") }
func (d *recordingDevice) Exit(context.Context)  { d.record("exit") }

func (d *recordingDevice) Trigger(_ context.Context, ev Trigger) {
	d.record("trigger")
}

// connect registers a client against a fake bus answering with wireOrder.
func connect(t *testing.T, dev *recordingDevice, wireOrder wire.Endianness) (*Client, *fakeBus) {
	t.Helper()
	devConn, busConn := socketPair(t)
	bus := &fakeBus{t: t, ch: transport.NewChannel(busConn, transport.ChannelConfig{Role: log.RoleBus})}

	type result struct {
		c   *Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := NewClient(context.Background(), devConn, Config{
			Name:      "dev",
			IOMem:     []wire.Region{{Base: 0x1000, Size: 0x100}},
			Handler:   dev,
			Lifecycle: dev,
			Events:    dev,
			Logger:    discardLogger(),
		})
		done <- result{c, err}
	}()

	reg, ok := bus.next().(*wire.RegisterRequest)
	require.True(t, ok)
	require.NoError(t, bus.ch.SendWithOrder(wire.HandshakeOrder, &wire.EndiannessResponse{ID: reg.ID, Endianness: wireOrder}))
	bus.ch.SetOrder(wireOrder.ByteOrder())

	r := <-done
	require.NoError(t, r.err)
	t.Cleanup(func() { r.c.Close() })
	return r.c, bus
}
