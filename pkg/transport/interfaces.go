package transport

import (
	"time"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// PacketConn is a bidirectional packet stream to one peer.
// Implemented by Channel.
type PacketConn interface {
	// ID returns the connection identifier.
	ID() string

	// Send writes one packet.
	Send(p wire.Packet) error

	// SendWithOrder writes one packet in an explicit byte order.
	SendWithOrder(order wire.ByteOrder, p wire.Packet) error

	// Next returns the next received packet.
	Next() (wire.Packet, error)

	// SetOrder switches the negotiated byte order.
	SetOrder(order wire.ByteOrder)

	// SetReadDeadline bounds blocking reads.
	SetReadDeadline(t time.Time) error

	// Close closes the connection.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ PacketConn = (*Channel)(nil)
)
