package log

import (
	"time"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (host wall clock, nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the transport connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates packet flow relative to the local side.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the bus or a device recorded the event.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// DeviceName is the registered device name (empty before registration).
	DeviceName string `cbor:"8,keyasint,omitempty"`

	// VirtualTime is the guest clock in nanoseconds, when known.
	VirtualTime uint64 `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Packet      *PacketEvent      `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Device/lifecycle state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of packet flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming packet.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing packet.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the stream layer (raw frame bytes).
	LayerTransport Layer = 0
	// LayerWire is the packet codec layer (decoded packets).
	LayerWire Layer = 1
	// LayerBus is the registry, scheduler and lifecycle layer. Matched
	// responses are repeated here with their round-trip latency.
	LayerBus Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerBus:
		return "BUS"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a packet (event/request/response).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side of the bus recorded the event.
type Role uint8

const (
	// RoleBus indicates the bus host.
	RoleBus Role = 0
	// RoleDevice indicates an attached device.
	RoleDevice Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleBus:
		return "BUS"
	case RoleDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (header included).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// PacketEvent captures a decoded packet at the wire layer.
type PacketEvent struct {
	// Kind is the packet class.
	Kind wire.Kind `cbor:"1,keyasint"`

	// Type is the per-kind packet type.
	Type wire.Type `cbor:"2,keyasint"`

	// ID correlates request/response pairs (0 for events).
	ID uint32 `cbor:"3,keyasint,omitempty"`

	// Summary is a one-line description of the packet fields.
	Summary string `cbor:"4,keyasint,omitempty"`

	// RoundTrip is the request-to-response latency, set on matched responses.
	RoundTrip *time.Duration `cbor:"5,keyasint,omitempty"`
}

// TypeName returns the packet type name.
func (p *PacketEvent) TypeName() string {
	return wire.TypeName(p.Kind, p.Type)
}

// NewPacketEvent builds a PacketEvent from a decoded packet.
func NewPacketEvent(p wire.Packet) *PacketEvent {
	pe := &PacketEvent{
		Kind:    p.Kind(),
		Type:    p.Type(),
		Summary: wire.Summary(p),
	}
	switch m := p.(type) {
	case wire.Request:
		pe.ID = m.RequestID()
	case wire.Response:
		pe.ID = m.ResponseID()
	}
	return pe
}

// StateChangeEvent captures device and lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a transport connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityDevice indicates a device registry state change.
	StateEntityDevice StateEntity = 1
	// StateEntityLifecycle indicates an Init/Reset/Exit broadcast or shutdown.
	StateEntityLifecycle StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityLifecycle:
		return "LIFECYCLE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the wire error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
