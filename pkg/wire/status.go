package wire

// ErrorCode is carried by Error responses.
//
// A Write is acknowledged with ErrCodeOK; any non-zero code reports an
// application-level failure the requester interprets.
type ErrorCode uint32

const (
	// ErrCodeOK acknowledges a Write.
	ErrCodeOK ErrorCode = 0

	// ErrCodeAddress indicates the address is not backed by memory or a device.
	ErrCodeAddress ErrorCode = 1

	// ErrCodeLength indicates an unsupported or inconsistent access length.
	ErrCodeLength ErrorCode = 2

	// ErrCodeUnsupported indicates the request type is not served here.
	ErrCodeUnsupported ErrorCode = 3

	// ErrCodeState indicates the receiver is not in a state to serve the request.
	ErrCodeState ErrorCode = 4
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeAddress:
		return "ADDRESS"
	case ErrCodeLength:
		return "LENGTH"
	case ErrCodeUnsupported:
		return "UNSUPPORTED"
	case ErrCodeState:
		return "STATE"
	default:
		return "UNKNOWN"
	}
}
