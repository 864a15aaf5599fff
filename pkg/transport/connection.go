package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// MaxLogFrameDataSize is the maximum frame data size included in capture
// events. Larger frames (bulk DMA) are truncated.
const MaxLogFrameDataSize = 4096

// Channel errors.
var (
	// ErrChannelClosed indicates the channel was closed locally.
	ErrChannelClosed = errors.New("channel closed")
)

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Order is the initial byte order (default: wire.HandshakeOrder).
	Order wire.ByteOrder

	// MaxPacketSize bounds accepted frames (default: wire.DefaultMaxPacketSize).
	MaxPacketSize uint32

	// WriteTimeout bounds a single Send (0 = no timeout).
	WriteTimeout time.Duration

	// ReadBufferSize is the size of each read from the connection (default 64 KiB).
	ReadBufferSize int

	// Logger receives frame and packet capture events (optional).
	Logger log.Logger

	// Role is recorded in capture events.
	Role log.Role
}

// Channel is a packet connection to one peer.
//
// Next must only be called from one goroutine at a time; Send is safe for
// concurrent use.
type Channel struct {
	conn   net.Conn
	config ChannelConfig
	connID string

	orderMu sync.RWMutex
	order   wire.ByteOrder

	// Reader state, confined to the goroutine calling Next.
	asm     *Reassembler
	readBuf []byte
	readErr error

	writeMu sync.Mutex

	nameMu sync.RWMutex
	name   string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps conn.
func NewChannel(conn net.Conn, config ChannelConfig) *Channel {
	if config.Order == nil {
		config.Order = wire.HandshakeOrder
	}
	if config.MaxPacketSize == 0 {
		config.MaxPacketSize = wire.DefaultMaxPacketSize
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 64 * 1024
	}
	config.Logger = log.OrNoop(config.Logger)
	tuneConn(conn)

	return &Channel{
		conn:    conn,
		config:  config,
		connID:  uuid.New().String(),
		order:   config.Order,
		asm:     NewReassembler(config.Order, config.MaxPacketSize),
		readBuf: make([]byte, config.ReadBufferSize),
	}
}

// ID returns the unique connection identifier used in capture events.
func (c *Channel) ID() string {
	return c.connID
}

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetPeerName records the registered device name for capture events.
func (c *Channel) SetPeerName(name string) {
	c.nameMu.Lock()
	c.name = name
	c.nameMu.Unlock()
}

// PeerName returns the name set by SetPeerName.
func (c *Channel) PeerName() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name
}

// Order returns the current byte order.
func (c *Channel) Order() wire.ByteOrder {
	c.orderMu.RLock()
	defer c.orderMu.RUnlock()
	return c.order
}

// SetOrder switches the byte order for packets sent and received after the call.
func (c *Channel) SetOrder(order wire.ByteOrder) {
	c.orderMu.Lock()
	c.order = order
	c.orderMu.Unlock()
}

// Send encodes and writes one packet.
func (c *Channel) Send(p wire.Packet) error {
	return c.SendWithOrder(c.Order(), p)
}

// SendWithOrder writes one packet in an explicit byte order. It is used for
// the handshake reply, which is always encoded in wire.HandshakeOrder.
func (c *Channel) SendWithOrder(order wire.ByteOrder, p wire.Packet) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	data, err := wire.Encode(order, p)
	if err != nil {
		return err
	}
	if uint32(len(data)) > c.config.MaxPacketSize {
		return fmt.Errorf("%w: %d > %d", wire.ErrPacketTooLarge, len(data), c.config.MaxPacketSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(data); err != nil {
		if c.closed.Load() {
			return ErrChannelClosed
		}
		return fmt.Errorf("failed to write packet: %w", err)
	}

	c.logFrame(data, log.DirectionOut)
	c.logPacket(p, log.DirectionOut)
	return nil
}

// Next returns the next packet from the peer, reading from the connection
// as needed. Packets are returned strictly in arrival order.
func (c *Channel) Next() (wire.Packet, error) {
	for {
		c.asm.SetOrder(c.Order())
		frame, err := c.asm.Next()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			c.logFrame(frame, log.DirectionIn)
			p, err := wire.Decode(c.Order(), frame)
			if err != nil {
				return nil, err
			}
			c.logPacket(p, log.DirectionIn)
			return p, nil
		}

		if c.readErr != nil {
			return nil, c.readErr
		}
		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			c.asm.Feed(c.readBuf[:n])
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && !c.closed.Load() {
				// Deadline errors are not sticky: the caller may extend the
				// deadline and call Next again.
				if n > 0 {
					continue
				}
				return nil, fmt.Errorf("read: %w", os.ErrDeadlineExceeded)
			}
			c.readErr = c.translateReadErr(err)
		}
	}
}

func (c *Channel) translateReadErr(err error) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if errors.Is(err, io.EOF) {
		if c.asm.Buffered() > 0 {
			return ErrFrameTruncated
		}
		return io.EOF
	}
	return fmt.Errorf("read failed: %w", err)
}

// SetReadDeadline bounds the next reads; a zero time removes the bound.
// A read that hits the deadline makes Next return os.ErrDeadlineExceeded.
func (c *Channel) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection. Blocked reads return ErrChannelClosed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

func (c *Channel) logFrame(data []byte, dir log.Direction) {
	if _, noop := c.config.Logger.(log.NoopLogger); noop {
		return
	}
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    c.config.Role,
		DeviceName:   c.PeerName(),
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      append([]byte(nil), frameData...),
			Truncated: truncated,
		},
	})
}

func (c *Channel) logPacket(p wire.Packet, dir log.Direction) {
	if _, noop := c.config.Logger.(log.NoopLogger); noop {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    c.config.Role,
		DeviceName:   c.PeerName(),
		Packet:       log.NewPacketEvent(p),
	})
}
