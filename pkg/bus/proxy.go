package bus

import (
	"context"
	"fmt"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// ReadMMIO serves a guest read inside one of d's regions. Failures are not
// visible to the guest: data is zero-filled instead.
func (d *Device) ReadMMIO(ctx context.Context, addr uint64, data []byte) error {
	if err := d.bus.readDevice(ctx, d, addr, data); err != nil {
		clear(data)
		d.bus.logger.Warn("mmio read failed", "device", d.Name, "addr", fmt.Sprintf("%#x", addr), "len", len(data), "error", err)
	}
	return nil
}

// WriteMMIO serves a guest write inside one of d's regions. Failures are
// logged and dropped.
func (d *Device) WriteMMIO(ctx context.Context, addr uint64, data []byte) error {
	if err := d.bus.writeDevice(ctx, d, addr, data); err != nil {
		d.bus.logger.Warn("mmio write failed", "device", d.Name, "addr", fmt.Sprintf("%#x", addr), "len", len(data), "error", err)
	}
	return nil
}

// MMIORead reads a size-byte register of dev, converted with the device's
// endianness. Any failure reads as zero.
func (b *Bus) MMIORead(ctx context.Context, dev *Device, addr uint64, size int) uint64 {
	if !validAccessSize(size) {
		b.logger.Warn("mmio read size", "device", dev.Name, "size", size)
		return 0
	}
	var buf [8]byte
	dev.ReadMMIO(ctx, addr, buf[:size])
	return decodeValue(dev.valueOrder, buf[:size])
}

// MMIOWrite writes a size-byte register of dev. The returned error is for
// diagnostics only; the guest never sees it.
func (b *Bus) MMIOWrite(ctx context.Context, dev *Device, addr uint64, size int, value uint64) error {
	if !validAccessSize(size) {
		return fmt.Errorf("invalid access size %d", size)
	}
	var buf [8]byte
	encodeValue(dev.valueOrder, buf[:size], value)
	return b.writeDevice(ctx, dev, addr, buf[:size])
}

func (b *Bus) readDevice(ctx context.Context, dev *Device, addr uint64, data []byte) error {
	guard := b.Freeze()
	defer guard.Release()

	resp, err := b.SendAndWait(ctx, dev, &wire.ReadRequest{Address: addr, Length: uint32(len(data))})
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case *wire.DataResponse:
		if len(r.Data) != len(data) {
			return fmt.Errorf("%w: %d bytes for a %d byte read", ErrUnexpectedReply, len(r.Data), len(data))
		}
		copy(data, r.Data)
		return nil
	case *wire.ErrorResponse:
		return fmt.Errorf("device error %s", r.Code)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, wire.Summary(resp))
	}
}

func (b *Bus) writeDevice(ctx context.Context, dev *Device, addr uint64, data []byte) error {
	guard := b.Freeze()
	defer guard.Release()

	resp, err := b.SendAndWait(ctx, dev, &wire.WriteRequest{Address: addr, Data: data})
	if err != nil {
		return err
	}
	r, ok := resp.(*wire.ErrorResponse)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, wire.Summary(resp))
	}
	if r.Code != wire.ErrCodeOK {
		return fmt.Errorf("device error %s", r.Code)
	}
	return nil
}

// serveDMARead answers a device read of guest memory.
func (b *Bus) serveDMARead(ctx context.Context, dev *Device, m *wire.ReadRequest) wire.Response {
	// Data response body: id, length, data.
	if uint64(m.Length)+wire.HeaderSize+8 > uint64(b.config.MaxPacketSize) {
		return &wire.ErrorResponse{ID: m.ID, Code: wire.ErrCodeLength}
	}
	data := make([]byte, m.Length)
	if err := b.host.Memory.ReadPhysical(ctx, m.Address, data); err != nil {
		b.logger.Debug("dma read failed", "device", dev.Name, "addr", fmt.Sprintf("%#x", m.Address), "error", err)
		return &wire.ErrorResponse{ID: m.ID, Code: errorCode(err)}
	}
	return &wire.DataResponse{ID: m.ID, Data: data}
}

// serveDMAWrite answers a device write to guest memory.
func (b *Bus) serveDMAWrite(ctx context.Context, dev *Device, m *wire.WriteRequest) wire.Response {
	if err := b.host.Memory.WritePhysical(ctx, m.Address, m.Data); err != nil {
		b.logger.Debug("dma write failed", "device", dev.Name, "addr", fmt.Sprintf("%#x", m.Address), "error", err)
		return &wire.ErrorResponse{ID: m.ID, Code: errorCode(err)}
	}
	return &wire.ErrorResponse{ID: m.ID, Code: wire.ErrCodeOK}
}

func validAccessSize(size int) bool {
	return size == 1 || size == 2 || size == 4 || size == 8
}

func encodeValue(order wire.ByteOrder, buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	}
}

func decodeValue(order wire.ByteOrder, buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	}
	return 0
}

var _ IOHandler = (*Device)(nil)
