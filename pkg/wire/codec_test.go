package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	maxData := bytes.Repeat([]byte{0xA5}, 1<<20)

	tests := []struct {
		name string
		pkt  Packet
	}{
		{"register minimal", &RegisterRequest{ID: 1, BusVersion: 3, Name: "", Endianness: EndianLittle}},
		{"register full", &RegisterRequest{
			ID:         7,
			BusVersion: 0x00010002,
			Name:       "uart0",
			Endianness: EndianBig,
			IOMem:      []Region{{Base: 0x1000, Size: 0x1000}, {Base: 0xFFFF_0000, Size: 0x10}},
			SharedMem:  []SharedRegion{{Name: "fb", Base: 0x8000_0000, Size: 0x10_0000}},
		}},
		{"read", &ReadRequest{ID: 2, Address: 0xDEAD_BEEF_0000, Length: 8}},
		{"read zero length", &ReadRequest{ID: 3, Address: 0x10, Length: 0}},
		{"write", &WriteRequest{ID: 4, Address: 0x1004, Data: []byte{0xDD, 0xCC, 0xBB, 0xAA}}},
		{"write zero length", &WriteRequest{ID: 5, Address: 0x1004, Data: []byte{}}},
		{"write max length", &WriteRequest{ID: 6, Address: 0, Data: maxData}},
		{"get time", &GetTimeRequest{ID: 8}},
		{"endianness", &EndiannessResponse{ID: 9, Endianness: EndianBig}},
		{"data", &DataResponse{ID: 10, Data: []byte{1, 2, 3}}},
		{"data empty", &DataResponse{ID: 11, Data: []byte{}}},
		{"data max length", &DataResponse{ID: 12, Data: maxData}},
		{"error ok", &ErrorResponse{ID: 13, Code: ErrCodeOK}},
		{"error address", &ErrorResponse{ID: 14, Code: ErrCodeAddress}},
		{"time", &TimeResponse{ID: 15, TimeNS: 1<<63 + 5}},
		{"set irq", &SetIRQEvent{Line: 31, Level: IRQPulse}},
		{"register event", &RegisterEventEvent{ExpireTime: 1000, EventID: 7, Payload: 42}},
		{"trigger event", &TriggerEvent{ExpireTime: ^uint64(0), EventID: 1, Payload: 0}},
		{"shutdown", &ShutdownEvent{}},
		{"init", &InitEvent{}},
		{"reset", &ResetEvent{}},
		{"exit", &ExitEvent{}},
	}

	orders := map[string]ByteOrder{
		"little": binary.LittleEndian,
		"big":    binary.BigEndian,
	}

	for _, tt := range tests {
		for orderName, order := range orders {
			t.Run(tt.name+"/"+orderName, func(t *testing.T) {
				data, err := Encode(order, tt.pkt)
				require.NoError(t, err)
				assert.Equal(t, uint32(len(data)), order.Uint32(data[0:4]), "total_size includes header")

				got, err := Decode(order, data)
				require.NoError(t, err)
				assert.Equal(t, tt.pkt, got)
			})
		}
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	data, err := Encode(binary.LittleEndian, &ErrorResponse{ID: 0x01020304, Code: ErrCodeOK})
	require.NoError(t, err)

	want := []byte{
		16, 0, 0, 0, // total_size
		byte(KindResponse), byte(TypeError), 0, 0,
		0x04, 0x03, 0x02, 0x01, // id
		0, 0, 0, 0, // code
	}
	assert.Equal(t, want, data)

	data, err = Encode(binary.BigEndian, &SetIRQEvent{Line: 5, Level: IRQRaise})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 13, byte(KindEvent), byte(TypeSetIRQ), 0, 0, 0, 0, 0, 5, 1}, data)
}

func TestWriteRequestDataByteOrder(t *testing.T) {
	// Data is carried verbatim, the wire order only applies to header fields.
	w := &WriteRequest{ID: 1, Address: 0x1004, Data: []byte{0xDD, 0xCC, 0xBB, 0xAA}}

	le, err := Encode(binary.LittleEndian, w)
	require.NoError(t, err)
	be, err := Encode(binary.BigEndian, w)
	require.NoError(t, err)

	assert.Equal(t, w.Data, le[len(le)-4:])
	assert.Equal(t, w.Data, be[len(be)-4:])
}

func TestDecodeHeaderErrors(t *testing.T) {
	order := binary.LittleEndian

	t.Run("short buffer", func(t *testing.T) {
		_, err := DecodeHeader(order, []byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrFrameTooShort)
	})

	t.Run("total size below header", func(t *testing.T) {
		_, err := DecodeHeader(order, []byte{7, 0, 0, 0, byte(KindEvent), byte(TypeInit), 0, 0})
		assert.ErrorIs(t, err, ErrFrameTooShort)
	})

	t.Run("invalid kind", func(t *testing.T) {
		_, err := DecodeHeader(order, []byte{8, 0, 0, 0, 9, 1, 0, 0})
		assert.ErrorIs(t, err, ErrInvalidKind)
	})

	t.Run("valid", func(t *testing.T) {
		h, err := DecodeHeader(order, []byte{8, 0, 0, 0, byte(KindEvent), byte(TypeExit), 0, 0})
		require.NoError(t, err)
		assert.Equal(t, Header{TotalSize: 8, Kind: KindEvent, Type: TypeExit}, h)
		assert.Equal(t, 0, h.BodySize())
	})
}

func TestDecodeBodyErrors(t *testing.T) {
	order := binary.LittleEndian

	t.Run("unknown type", func(t *testing.T) {
		_, err := Decode(order, []byte{8, 0, 0, 0, byte(KindEvent), 99, 0, 0})
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("truncated read", func(t *testing.T) {
		data, err := Encode(order, &ReadRequest{ID: 1, Address: 2, Length: 3})
		require.NoError(t, err)
		short := data[:len(data)-2]
		order.PutUint32(short[0:4], uint32(len(short)))
		_, err = Decode(order, short)
		assert.ErrorIs(t, err, ErrTruncatedBody)
	})

	t.Run("write length exceeds body", func(t *testing.T) {
		data, err := Encode(order, &WriteRequest{ID: 1, Address: 2, Data: []byte{1, 2}})
		require.NoError(t, err)
		order.PutUint32(data[HeaderSize+12:], 1000)
		_, err = Decode(order, data)
		assert.ErrorIs(t, err, ErrTruncatedBody)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		data, err := Encode(order, &InitEvent{})
		require.NoError(t, err)
		data = append(data, 0xFF)
		order.PutUint32(data[0:4], uint32(len(data)))
		_, err = Decode(order, data)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("total size disagrees with buffer", func(t *testing.T) {
		data, err := Encode(order, &InitEvent{})
		require.NoError(t, err)
		_, err = Decode(order, append(data, 0))
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("register iomem count overflows body", func(t *testing.T) {
		data, err := Encode(order, &RegisterRequest{ID: 1, BusVersion: 1, Name: "x"})
		require.NoError(t, err)
		order.PutUint16(data[HeaderSize+12:], 500)
		_, err = Decode(order, data)
		assert.ErrorIs(t, err, ErrTruncatedBody)
	})
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	order := binary.LittleEndian
	data, err := Encode(order, &DataResponse{ID: 1, Data: []byte{1, 2, 3, 4}})
	require.NoError(t, err)

	pkt, err := Decode(order, data)
	require.NoError(t, err)

	for i := range data {
		data[i] = 0
	}
	assert.Equal(t, []byte{1, 2, 3, 4}, pkt.(*DataResponse).Data)
}

func TestEncodeRejectsUnknownPacket(t *testing.T) {
	_, err := Encode(binary.LittleEndian, nil)
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestEndiannessResolve(t *testing.T) {
	assert.Equal(t, EndianLittle, EndianLittle.Resolve())
	assert.Equal(t, EndianBig, EndianBig.Resolve())

	native := EndianNative.Resolve()
	assert.NotEqual(t, EndianNative, native)

	var probe [4]byte
	binary.NativeEndian.PutUint32(probe[:], 0x01020304)
	var got [4]byte
	native.ByteOrder().PutUint32(got[:], 0x01020304)
	assert.Equal(t, probe, got)
}

func TestParseEndianness(t *testing.T) {
	tests := []struct {
		in      string
		want    Endianness
		wantErr bool
	}{
		{"little", EndianLittle, false},
		{"", EndianLittle, false},
		{"big", EndianBig, false},
		{"be", EndianBig, false},
		{"native", EndianNative, false},
		{"middle", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndianness(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegion(t *testing.T) {
	r := Region{Base: 0x1000, Size: 0x1000}

	assert.True(t, r.Contains(0x1000, 4))
	assert.True(t, r.Contains(0x1FFC, 4))
	assert.True(t, r.Contains(0x2000, 0))
	assert.False(t, r.Contains(0x1FFE, 4))
	assert.False(t, r.Contains(0x0FFF, 1))
	assert.False(t, r.Contains(0x3000, 1))

	assert.True(t, r.Overlaps(Region{Base: 0x1800, Size: 0x1000}))
	assert.False(t, r.Overlaps(Region{Base: 0x2000, Size: 0x1000}))
	assert.False(t, r.Overlaps(Region{Base: 0x0, Size: 0x1000}))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "Read id=2 addr=0x10 len=4", Summary(&ReadRequest{ID: 2, Address: 0x10, Length: 4}))
	assert.Equal(t, "Init", Summary(&InitEvent{}))
	assert.Equal(t, "RESPONSE(9)", TypeName(KindResponse, 9))
}
