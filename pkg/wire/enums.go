package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind is the top-level packet class carried in the header.
type Kind uint8

const (
	// KindEvent is a one-way notification; it is never answered.
	KindEvent Kind = 1

	// KindRequest expects exactly one response with the same id.
	KindRequest Kind = 2

	// KindResponse answers a request.
	KindResponse Kind = 3
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "EVENT"
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindEvent && k <= KindResponse
}

// Type is the packet sub-type; its meaning depends on the Kind.
type Type uint8

// Event types.
const (
	TypeSetIRQ        Type = 1
	TypeRegisterEvent Type = 2
	TypeTriggerEvent  Type = 3
	TypeShutdown      Type = 4
	TypeInit          Type = 5
	TypeReset         Type = 6
	TypeExit          Type = 7
)

// Request types.
const (
	TypeRegister Type = 1
	TypeRead     Type = 2
	TypeWrite    Type = 3
	TypeGetTime  Type = 4
)

// Response types.
const (
	TypeEndianness Type = 1
	TypeData       Type = 2
	TypeError      Type = 3
	TypeTime       Type = 4
)

var typeNames = map[Kind]map[Type]string{
	KindEvent: {
		TypeSetIRQ:        "SetIRQ",
		TypeRegisterEvent: "RegisterEvent",
		TypeTriggerEvent:  "TriggerEvent",
		TypeShutdown:      "Shutdown",
		TypeInit:          "Init",
		TypeReset:         "Reset",
		TypeExit:          "Exit",
	},
	KindRequest: {
		TypeRegister: "Register",
		TypeRead:     "Read",
		TypeWrite:    "Write",
		TypeGetTime:  "GetTime",
	},
	KindResponse: {
		TypeEndianness: "Endianness",
		TypeData:       "Data",
		TypeError:      "Error",
		TypeTime:       "Time",
	},
}

// TypeName returns the name of a packet type within a kind.
func TypeName(k Kind, t Type) string {
	if name, ok := typeNames[k][t]; ok {
		return name
	}
	return fmt.Sprintf("%s(%d)", k, uint8(t))
}

// Endianness is a byte order declaration.
type Endianness uint8

const (
	// EndianLittle is little-endian byte order.
	EndianLittle Endianness = 0

	// EndianBig is big-endian byte order.
	EndianBig Endianness = 1

	// EndianNative is the byte order of the host running the bus.
	EndianNative Endianness = 2
)

// String returns the endianness name.
func (e Endianness) String() string {
	switch e {
	case EndianLittle:
		return "little"
	case EndianBig:
		return "big"
	case EndianNative:
		return "native"
	default:
		return fmt.Sprintf("endianness(%d)", uint8(e))
	}
}

// Valid reports whether e is a known endianness.
func (e Endianness) Valid() bool {
	return e <= EndianNative
}

// Resolve maps EndianNative to the concrete order of the host.
func (e Endianness) Resolve() Endianness {
	if e != EndianNative {
		return e
	}
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	if probe[0] == 1 {
		return EndianLittle
	}
	return EndianBig
}

// ByteOrder returns the encoding/binary order for e.
func (e Endianness) ByteOrder() ByteOrder {
	if e.Resolve() == EndianBig {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ParseEndianness parses "little", "big" or "native".
func ParseEndianness(s string) (Endianness, error) {
	switch s {
	case "little", "le", "":
		return EndianLittle, nil
	case "big", "be":
		return EndianBig, nil
	case "native":
		return EndianNative, nil
	default:
		return 0, fmt.Errorf("unknown endianness %q", s)
	}
}

// ByteOrder is the subset of encoding/binary orders the codec needs.
// binary.LittleEndian, binary.BigEndian and binary.NativeEndian satisfy it.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// HandshakeOrder is the fixed byte order of Register and its Endianness reply.
var HandshakeOrder ByteOrder = binary.LittleEndian

// IRQLevel is the requested state change of an interrupt line.
type IRQLevel uint8

const (
	// IRQLower deasserts the line.
	IRQLower IRQLevel = 0

	// IRQRaise asserts the line.
	IRQRaise IRQLevel = 1

	// IRQPulse asserts then immediately deasserts the line.
	IRQPulse IRQLevel = 2
)

// String returns the level name.
func (l IRQLevel) String() string {
	switch l {
	case IRQLower:
		return "LOWER"
	case IRQRaise:
		return "RAISE"
	case IRQPulse:
		return "PULSE"
	default:
		return fmt.Sprintf("LEVEL(%d)", uint8(l))
	}
}

// Valid reports whether l is a known level.
func (l IRQLevel) Valid() bool {
	return l <= IRQPulse
}
