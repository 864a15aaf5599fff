package wire

import (
	"errors"
	"fmt"
	"math"
)

// Framing constants.
const (
	// HeaderSize is the size of the fixed packet header in bytes.
	HeaderSize = 8

	// DefaultMaxPacketSize bounds total_size unless configured otherwise
	// (1 MiB of payload plus header and body fields).
	DefaultMaxPacketSize = 1<<20 + 64
)

// Codec errors.
var (
	// ErrFrameTooShort indicates fewer bytes than a header, or a total_size
	// smaller than the header.
	ErrFrameTooShort = errors.New("frame too short")

	// ErrInvalidKind indicates an unknown packet kind.
	ErrInvalidKind = errors.New("invalid packet kind")

	// ErrUnknownType indicates an unknown type for a known kind.
	ErrUnknownType = errors.New("unknown packet type")

	// ErrTruncatedBody indicates the body ended before all fields were read.
	ErrTruncatedBody = errors.New("truncated packet body")

	// ErrLengthMismatch indicates trailing bytes or disagreeing length fields.
	ErrLengthMismatch = errors.New("packet length mismatch")

	// ErrPacketTooLarge indicates total_size exceeds the permitted maximum.
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrInvalidField indicates a field value that cannot be encoded.
	ErrInvalidField = errors.New("invalid field value")
)

// Header is the decoded fixed packet header.
type Header struct {
	TotalSize uint32
	Kind      Kind
	Type      Type
}

// BodySize returns the number of bytes following the header.
func (h Header) BodySize() int {
	return int(h.TotalSize) - HeaderSize
}

// String returns "KIND/Type(size)".
func (h Header) String() string {
	return fmt.Sprintf("%s/%s(%d)", h.Kind, TypeName(h.Kind, h.Type), h.TotalSize)
}

// Encode serializes p including its header.
func Encode(order ByteOrder, p Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrInvalidField)
	}
	e := encoder{order: order, buf: make([]byte, HeaderSize, HeaderSize+32)}

	switch m := p.(type) {
	case *RegisterRequest:
		if len(m.Name) > math.MaxUint16 || len(m.IOMem) > math.MaxUint16 || len(m.SharedMem) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: register descriptor too large", ErrInvalidField)
		}
		e.u32(m.ID)
		e.u32(m.BusVersion)
		e.u8(uint8(m.Endianness))
		e.u8(0)
		e.u16(uint16(len(m.Name)))
		e.u16(uint16(len(m.IOMem)))
		e.u16(uint16(len(m.SharedMem)))
		e.bytes([]byte(m.Name))
		for _, r := range m.IOMem {
			e.u64(r.Base)
			e.u64(r.Size)
		}
		for _, s := range m.SharedMem {
			if len(s.Name) > math.MaxUint16 {
				return nil, fmt.Errorf("%w: shared memory name too long", ErrInvalidField)
			}
			e.u16(uint16(len(s.Name)))
			e.bytes([]byte(s.Name))
			e.u64(s.Base)
			e.u64(s.Size)
		}
	case *ReadRequest:
		e.u32(m.ID)
		e.u64(m.Address)
		e.u32(m.Length)
	case *WriteRequest:
		if uint64(len(m.Data)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: write data too long", ErrInvalidField)
		}
		e.u32(m.ID)
		e.u64(m.Address)
		e.u32(uint32(len(m.Data)))
		e.bytes(m.Data)
	case *GetTimeRequest:
		e.u32(m.ID)
	case *EndiannessResponse:
		e.u32(m.ID)
		e.u8(uint8(m.Endianness))
	case *DataResponse:
		if uint64(len(m.Data)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: data too long", ErrInvalidField)
		}
		e.u32(m.ID)
		e.u32(uint32(len(m.Data)))
		e.bytes(m.Data)
	case *ErrorResponse:
		e.u32(m.ID)
		e.u32(uint32(m.Code))
	case *TimeResponse:
		e.u32(m.ID)
		e.u64(m.TimeNS)
	case *SetIRQEvent:
		e.u32(m.Line)
		e.u8(uint8(m.Level))
	case *RegisterEventEvent:
		e.u64(m.ExpireTime)
		e.u32(m.EventID)
		e.u64(m.Payload)
	case *TriggerEvent:
		e.u64(m.ExpireTime)
		e.u32(m.EventID)
		e.u64(m.Payload)
	case *ShutdownEvent, *InitEvent, *ResetEvent, *ExitEvent:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, p)
	}

	if uint64(len(e.buf)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(e.buf))
	}
	order.PutUint32(e.buf[0:4], uint32(len(e.buf)))
	e.buf[4] = uint8(p.Kind())
	e.buf[5] = uint8(p.Type())
	e.buf[6] = 0
	e.buf[7] = 0
	return e.buf, nil
}

// DecodeHeader decodes the fixed header from the first HeaderSize bytes of data.
func DecodeHeader(order ByteOrder, data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d < %d bytes", ErrFrameTooShort, len(data), HeaderSize)
	}
	h := Header{
		TotalSize: order.Uint32(data[0:4]),
		Kind:      Kind(data[4]),
		Type:      Type(data[5]),
	}
	if h.TotalSize < HeaderSize {
		return Header{}, fmt.Errorf("%w: total_size %d", ErrFrameTooShort, h.TotalSize)
	}
	if !h.Kind.Valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidKind, data[4])
	}
	return h, nil
}

// DecodeBody decodes the body of a packet whose header is h. body excludes
// the header and must be exactly h.BodySize() bytes.
func DecodeBody(order ByteOrder, h Header, body []byte) (Packet, error) {
	if len(body) != h.BodySize() {
		return nil, fmt.Errorf("%w: body %d bytes, header declares %d", ErrLengthMismatch, len(body), h.BodySize())
	}
	d := decoder{order: order, buf: body}

	var p Packet
	switch h.Kind {
	case KindRequest:
		p = d.request(h.Type)
	case KindResponse:
		p = d.response(h.Type)
	case KindEvent:
		p = d.event(h.Type)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, h.Kind)
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode %s: %w", h, d.err)
	}
	if d.off != len(d.buf) {
		return nil, fmt.Errorf("decode %s: %w: %d trailing bytes", h, ErrLengthMismatch, len(d.buf)-d.off)
	}
	return p, nil
}

// Decode decodes one complete packet. data must hold exactly total_size bytes.
func Decode(order ByteOrder, data []byte) (Packet, error) {
	h, err := DecodeHeader(order, data)
	if err != nil {
		return nil, err
	}
	if int(h.TotalSize) != len(data) {
		return nil, fmt.Errorf("%w: total_size %d, have %d bytes", ErrLengthMismatch, h.TotalSize, len(data))
	}
	return DecodeBody(order, h, data[HeaderSize:])
}

type encoder struct {
	order ByteOrder
	buf   []byte
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = e.order.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = e.order.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = e.order.AppendUint64(e.buf, v) }
func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }

// decoder reads fields sequentially; the first error sticks.
type decoder struct {
	order ByteOrder
	buf   []byte
	off   int
	err   error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = ErrTruncatedBody
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return d.order.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return d.order.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return d.order.Uint64(b)
	}
	return 0
}

// data copies n bytes so decoded packets never alias the receive buffer.
func (d *decoder) data(n uint32) []byte {
	if uint64(n) > uint64(len(d.buf)-d.off) {
		if d.err == nil {
			d.err = ErrTruncatedBody
		}
		return nil
	}
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) request(t Type) Packet {
	switch t {
	case TypeRegister:
		r := &RegisterRequest{}
		r.ID = d.u32()
		r.BusVersion = d.u32()
		r.Endianness = Endianness(d.u8())
		d.u8()
		nameLen := d.u16()
		iomemCount := d.u16()
		shmCount := d.u16()
		r.Name = string(d.data(uint32(nameLen)))
		if d.err != nil {
			return nil
		}
		if int(iomemCount)*16 > len(d.buf)-d.off {
			d.err = ErrTruncatedBody
			return nil
		}
		if iomemCount > 0 {
			r.IOMem = make([]Region, 0, iomemCount)
		}
		for i := 0; i < int(iomemCount) && d.err == nil; i++ {
			r.IOMem = append(r.IOMem, Region{Base: d.u64(), Size: d.u64()})
		}
		for i := 0; i < int(shmCount) && d.err == nil; i++ {
			n := d.u16()
			s := SharedRegion{Name: string(d.data(uint32(n)))}
			s.Base = d.u64()
			s.Size = d.u64()
			r.SharedMem = append(r.SharedMem, s)
		}
		return r
	case TypeRead:
		return &ReadRequest{ID: d.u32(), Address: d.u64(), Length: d.u32()}
	case TypeWrite:
		w := &WriteRequest{ID: d.u32(), Address: d.u64()}
		w.Data = d.data(d.u32())
		return w
	case TypeGetTime:
		return &GetTimeRequest{ID: d.u32()}
	default:
		d.err = fmt.Errorf("%w: request type %d", ErrUnknownType, t)
		return nil
	}
}

func (d *decoder) response(t Type) Packet {
	switch t {
	case TypeEndianness:
		return &EndiannessResponse{ID: d.u32(), Endianness: Endianness(d.u8())}
	case TypeData:
		r := &DataResponse{ID: d.u32()}
		r.Data = d.data(d.u32())
		return r
	case TypeError:
		return &ErrorResponse{ID: d.u32(), Code: ErrorCode(d.u32())}
	case TypeTime:
		return &TimeResponse{ID: d.u32(), TimeNS: d.u64()}
	default:
		d.err = fmt.Errorf("%w: response type %d", ErrUnknownType, t)
		return nil
	}
}

func (d *decoder) event(t Type) Packet {
	switch t {
	case TypeSetIRQ:
		return &SetIRQEvent{Line: d.u32(), Level: IRQLevel(d.u8())}
	case TypeRegisterEvent:
		return &RegisterEventEvent{ExpireTime: d.u64(), EventID: d.u32(), Payload: d.u64()}
	case TypeTriggerEvent:
		return &TriggerEvent{ExpireTime: d.u64(), EventID: d.u32(), Payload: d.u64()}
	case TypeShutdown:
		return &ShutdownEvent{}
	case TypeInit:
		return &InitEvent{}
	case TypeReset:
		return &ResetEvent{}
	case TypeExit:
		return &ExitEvent{}
	default:
		d.err = fmt.Errorf("%w: event type %d", ErrUnknownType, t)
		return nil
	}
}
