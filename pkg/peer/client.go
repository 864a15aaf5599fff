package peer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/transport"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Client is a registered connection to the bus.
type Client struct {
	config Config
	ch     *transport.Channel
	logger *slog.Logger

	wireEndianness wire.Endianness

	lastID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan wire.Response
	closed    bool

	inbox  *inbox
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	exited atomic.Bool
	local  atomic.Bool

	errMu sync.Mutex
	err   error
	done  chan struct{}
}

// Dial connects to the bus at addr (see transport.ParseAddress) and
// registers the device.
func Dial(ctx context.Context, addr string, config Config) (*Client, error) {
	a, err := transport.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	conn, err := transport.Dial(ctx, a)
	if err != nil {
		return nil, err
	}
	c, err := NewClient(ctx, conn, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient registers the device over an established connection. On
// success the client owns conn.
func NewClient(ctx context.Context, conn net.Conn, config Config) (*Client, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	ch := transport.NewChannel(conn, transport.ChannelConfig{
		MaxPacketSize: config.MaxPacketSize,
		WriteTimeout:  config.WriteTimeout,
		Logger:        config.ProtocolLogger,
		Role:          log.RoleDevice,
	})
	ch.SetPeerName(config.Name)

	c := &Client{
		config:  config,
		ch:      ch,
		logger:  config.Logger.With("device", config.Name),
		pending: make(map[uint32]chan wire.Response),
		inbox:   newInbox(),
		done:    make(chan struct{}),
	}

	if err := c.register(ctx); err != nil {
		return nil, err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.inbox.run()
	go c.readLoop()
	return c, nil
}

func (c *Client) register(ctx context.Context) error {
	req := &wire.RegisterRequest{
		ID:         c.nextID(),
		BusVersion: c.config.BusVersion,
		Name:       c.config.Name,
		Endianness: c.config.Endianness,
		IOMem:      c.config.IOMem,
		SharedMem:  c.config.SharedMem,
	}
	if err := c.ch.SendWithOrder(wire.HandshakeOrder, req); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	deadline := time.Now().Add(c.config.RegisterTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ch.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		c.ch.SetReadDeadline(time.Unix(1, 0))
	})
	p, err := c.ch.Next()
	stop()
	c.ch.SetReadDeadline(time.Time{})

	switch {
	case err == nil:
	case errors.Is(err, os.ErrDeadlineExceeded):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRegisterTimeout
	case errors.Is(err, io.EOF):
		return ErrRejected
	default:
		return fmt.Errorf("await endianness: %w", err)
	}

	resp, ok := p.(*wire.EndiannessResponse)
	if !ok || resp.ID != req.ID {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, wire.Summary(p))
	}
	c.wireEndianness = resp.Endianness.Resolve()
	c.ch.SetOrder(c.wireEndianness.ByteOrder())

	c.logger.Info("registered",
		"conn_id", c.ch.ID(),
		"wire_endianness", c.wireEndianness,
		"iomem", len(c.config.IOMem))
	return nil
}

func (c *Client) nextID() uint32 {
	for {
		if id := c.lastID.Add(1); id != 0 {
			return id
		}
	}
}

func (c *Client) readLoop() {
	for {
		p, err := c.ch.Next()
		if err != nil {
			c.teardown(err)
			return
		}
		c.logger.Debug("packet received", "packet", wire.Summary(p))

		switch m := p.(type) {
		case wire.Response:
			c.resolve(m)
		case *wire.ReadRequest:
			c.serveRequest(m)
		case *wire.WriteRequest:
			c.serveRequest(m)
		case *wire.InitEvent:
			c.lifecycle("init", func(h LifecycleHandler) { h.Init(c.ctx) })
		case *wire.ResetEvent:
			c.lifecycle("reset", func(h LifecycleHandler) { h.Reset(c.ctx) })
		case *wire.ExitEvent:
			c.exited.Store(true)
			c.lifecycle("exit", func(h LifecycleHandler) { h.Exit(c.ctx) })
		case *wire.TriggerEvent:
			ev := Trigger{ExpireTime: m.ExpireTime, EventID: m.EventID, Payload: m.Payload}
			c.inbox.push(func() {
				if c.config.Events != nil {
					c.config.Events.Trigger(c.ctx, ev)
				}
			})
		case wire.Request:
			c.logger.Warn("unsupported request from bus", "packet", wire.Summary(p))
			c.reply(&wire.ErrorResponse{ID: m.RequestID(), Code: wire.ErrCodeUnsupported})
		default:
			c.logger.Warn("unexpected packet from bus", "packet", wire.Summary(p))
		}
	}
}

func (c *Client) lifecycle(name string, fn func(LifecycleHandler)) {
	c.inbox.push(func() {
		c.logger.Info("lifecycle event", "event", name)
		if c.config.Lifecycle != nil {
			fn(c.config.Lifecycle)
		}
	})
}

// serveRequest answers a bus access once every event received before it
// has been handled. Handlers run on their own goroutine so they can wait
// on DMA replies.
func (c *Client) serveRequest(req wire.Request) {
	fence := c.inbox.fence()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-fence:
		case <-c.done:
			return
		}
		c.reply(c.handle(req))
	}()
}

func (c *Client) handle(req wire.Request) wire.Response {
	switch m := req.(type) {
	case *wire.ReadRequest:
		data := make([]byte, m.Length)
		if m.Length > 0 {
			if err := c.readRegister(m.Address, data); err != nil {
				return &wire.ErrorResponse{ID: m.ID, Code: errorCode(err)}
			}
		}
		return &wire.DataResponse{ID: m.ID, Data: data}
	case *wire.WriteRequest:
		var err error
		if len(m.Data) > 0 {
			err = c.writeRegister(m.Address, m.Data)
		}
		return &wire.ErrorResponse{ID: m.ID, Code: errorCode(err)}
	}
	return &wire.ErrorResponse{ID: req.RequestID(), Code: wire.ErrCodeUnsupported}
}

func (c *Client) readRegister(addr uint64, data []byte) error {
	if c.config.Handler == nil {
		return ErrUnsupported
	}
	if err := c.config.Handler.ReadRegister(c.ctx, addr, data); err != nil {
		c.logger.Debug("register read failed", "addr", fmt.Sprintf("%#x", addr), "error", err)
		return err
	}
	return nil
}

func (c *Client) writeRegister(addr uint64, data []byte) error {
	if c.config.Handler == nil {
		return ErrUnsupported
	}
	if err := c.config.Handler.WriteRegister(c.ctx, addr, data); err != nil {
		c.logger.Debug("register write failed", "addr", fmt.Sprintf("%#x", addr), "error", err)
		return err
	}
	return nil
}

func (c *Client) reply(resp wire.Response) {
	if err := c.ch.Send(resp); err != nil {
		c.logger.Debug("reply dropped", "packet", wire.Summary(resp), "error", err)
	}
}

func (c *Client) resolve(resp wire.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ResponseID()]
	delete(c.pending, resp.ResponseID())
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request", "packet", wire.Summary(resp))
		return
	}
	ch <- resp
}

// teardown runs once the connection is gone: outstanding round trips
// fail, queued events still reach their handlers, then Done closes.
func (c *Client) teardown(cause error) {
	c.pendingMu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.inbox.close()
	<-c.inbox.done
	c.cancel()
	c.ch.Close()

	clean := c.exited.Load() || c.local.Load()
	c.errMu.Lock()
	if !clean {
		c.err = cause
	}
	c.errMu.Unlock()

	if clean {
		c.logger.Info("disconnected")
	} else {
		c.logger.Error("connection lost", "error", cause)
	}
	close(c.done)
	c.wg.Wait()
}

func (c *Client) roundTrip(ctx context.Context, req wire.Request) (wire.Response, error) {
	id := c.nextID()
	req.SetRequestID(id)
	ch := make(chan wire.Response, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	start := time.Now()
	if err := c.ch.Send(req); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		c.logRoundTrip(resp, time.Since(start))
		return resp, nil
	}
}

func (c *Client) logRoundTrip(resp wire.Response, rtt time.Duration) {
	pe := log.NewPacketEvent(resp)
	pe.RoundTrip = &rtt
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ch.ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerBus,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleDevice,
		DeviceName:   c.config.Name,
		Packet:       pe,
	})
}

func (c *Client) forget(id uint32) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) event(ev wire.Packet) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	return c.ch.Send(ev)
}

// SetIRQ changes the level of a guest interrupt line.
func (c *Client) SetIRQ(line uint32, level wire.IRQLevel) error {
	return c.event(&wire.SetIRQEvent{Line: line, Level: level})
}

// RegisterEvent asks for a Trigger once virtual time reaches expire.
func (c *Client) RegisterEvent(expire uint64, eventID uint32, payload uint64) error {
	return c.event(&wire.RegisterEventEvent{ExpireTime: expire, EventID: eventID, Payload: payload})
}

// Shutdown asks the bus to stop the guest.
func (c *Client) Shutdown() error {
	return c.event(&wire.ShutdownEvent{})
}

// DMARead reads length bytes of guest memory at addr.
func (c *Client) DMARead(ctx context.Context, addr uint64, length uint32) ([]byte, error) {
	resp, err := c.roundTrip(ctx, &wire.ReadRequest{Address: addr, Length: length})
	if err != nil {
		return nil, err
	}
	switch r := resp.(type) {
	case *wire.DataResponse:
		return r.Data, nil
	case *wire.ErrorResponse:
		if r.Code != wire.ErrCodeOK {
			return nil, &StatusError{Code: r.Code}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, wire.Summary(resp))
}

// DMAWrite writes data into guest memory at addr.
func (c *Client) DMAWrite(ctx context.Context, addr uint64, data []byte) error {
	resp, err := c.roundTrip(ctx, &wire.WriteRequest{Address: addr, Data: data})
	if err != nil {
		return err
	}
	if r, ok := resp.(*wire.ErrorResponse); ok {
		if r.Code == wire.ErrCodeOK {
			return nil
		}
		return &StatusError{Code: r.Code}
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedReply, wire.Summary(resp))
}

// GetTime returns the guest's virtual time in nanoseconds.
func (c *Client) GetTime(ctx context.Context) (uint64, error) {
	resp, err := c.roundTrip(ctx, &wire.GetTimeRequest{})
	if err != nil {
		return 0, err
	}
	if r, ok := resp.(*wire.TimeResponse); ok {
		return r.TimeNS, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnexpectedReply, wire.Summary(resp))
}

// Name returns the registered device name.
func (c *Client) Name() string { return c.config.Name }

// ConnectionID returns the transport connection identifier.
func (c *Client) ConnectionID() string { return c.ch.ID() }

// WireEndianness returns the byte order the bus chose for headers.
func (c *Client) WireEndianness() wire.Endianness { return c.wireEndianness }

// ValueOrder returns the byte order of register values.
func (c *Client) ValueOrder() binary.ByteOrder {
	return c.config.Endianness.Resolve().ByteOrder()
}

// Close disconnects from the bus. It does not wait for handlers; use
// Wait for that.
func (c *Client) Close() error {
	c.local.Store(true)
	return c.ch.Close()
}

// Done is closed once the connection is gone and queued events ran.
func (c *Client) Done() <-chan struct{} { return c.done }

// Wait blocks until Done and returns Err.
func (c *Client) Wait() error {
	<-c.done
	return c.Err()
}

// Err returns why the connection ended. It is nil after Exit or Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}
