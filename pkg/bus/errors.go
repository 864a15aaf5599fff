package bus

import (
	"errors"
	"fmt"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Bus errors.
var (
	ErrVersionMismatch = errors.New("bus version mismatch")
	ErrNotRegistered   = errors.New("device not registered")
	ErrRegionConflict  = errors.New("memory region conflict")
	ErrRequestTimeout  = errors.New("request timed out")
	ErrDeviceClosed    = errors.New("device closed")
	ErrAttachTimeout   = errors.New("device did not attach in time")
	ErrBusClosed       = errors.New("bus closed")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrUnexpectedReply = errors.New("unexpected response")
)

// Guest memory errors. GuestMemory implementations wrap these so DMA
// failures map onto wire error codes.
var (
	ErrGuestAddress     = errors.New("guest address not mapped")
	ErrGuestLength      = errors.New("invalid guest access length")
	ErrGuestUnsupported = errors.New("guest access not supported")
	ErrGuestState       = errors.New("guest not accepting accesses")
)

// ProtocolError is a misbehaving packet from a device.
type ProtocolError struct {
	Device string
	Packet string
	Err    error
}

func (e *ProtocolError) Error() string {
	name := e.Device
	if name == "" {
		name = "<unregistered>"
	}
	if e.Packet == "" {
		return fmt.Sprintf("protocol error from %s: %v", name, e.Err)
	}
	return fmt.Sprintf("protocol error from %s on %s: %v", name, e.Packet, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// errorCode maps a guest memory error onto the code carried by an Error
// response.
func errorCode(err error) wire.ErrorCode {
	switch {
	case err == nil:
		return wire.ErrCodeOK
	case errors.Is(err, ErrGuestLength):
		return wire.ErrCodeLength
	case errors.Is(err, ErrGuestUnsupported):
		return wire.ErrCodeUnsupported
	case errors.Is(err, ErrGuestState):
		return wire.ErrCodeState
	default:
		return wire.ErrCodeAddress
	}
}
