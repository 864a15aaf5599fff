package peer

import (
	"errors"
	"fmt"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Client errors.
var (
	ErrClientClosed    = errors.New("client is closed")
	ErrRegisterTimeout = errors.New("registration timed out")
	ErrRejected        = errors.New("registration rejected by bus")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrInvalidConfig   = errors.New("invalid peer configuration")
)

// Errors a Handler returns to select the Error code sent to the bus.
// Anything else is reported as ErrAddress.
var (
	ErrAddress     = errors.New("address not served")
	ErrLength      = errors.New("unsupported access length")
	ErrUnsupported = errors.New("access not supported")
	ErrState       = errors.New("device not ready")
)

// StatusError is returned when the bus answers a request with a non-zero
// Error code.
type StatusError struct {
	Code wire.ErrorCode
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bus returned error %s (%d)", e.Code, uint32(e.Code))
}

// Is maps the code onto the matching handler sentinel.
func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case wire.ErrCodeAddress:
		return target == ErrAddress
	case wire.ErrCodeLength:
		return target == ErrLength
	case wire.ErrCodeUnsupported:
		return target == ErrUnsupported
	case wire.ErrCodeState:
		return target == ErrState
	}
	return false
}

func errorCode(err error) wire.ErrorCode {
	switch {
	case err == nil:
		return wire.ErrCodeOK
	case errors.Is(err, ErrLength):
		return wire.ErrCodeLength
	case errors.Is(err, ErrUnsupported):
		return wire.ErrCodeUnsupported
	case errors.Is(err, ErrState):
		return wire.ErrCodeState
	default:
		return wire.ErrCodeAddress
	}
}
