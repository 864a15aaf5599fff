package transport

import (
	"errors"
	"fmt"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

// Reassembly errors.
var (
	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// Reassembler turns an arbitrarily chunked byte stream into whole frames.
// It is not safe for concurrent use; a Channel confines it to its reader.
type Reassembler struct {
	order   wire.ByteOrder
	maxSize uint32
	buf     []byte
	start   int
	err     error
}

// NewReassembler creates a reassembler splitting frames with the given byte
// order and rejecting frames larger than maxSize (0 means the default).
func NewReassembler(order wire.ByteOrder, maxSize uint32) *Reassembler {
	if maxSize == 0 {
		maxSize = wire.DefaultMaxPacketSize
	}
	return &Reassembler{order: order, maxSize: maxSize}
}

// SetOrder changes the byte order used to read total_size of later frames.
func (r *Reassembler) SetOrder(order wire.ByteOrder) {
	r.order = order
}

// Feed appends a received chunk.
func (r *Reassembler) Feed(chunk []byte) {
	if r.start > 0 && r.start == len(r.buf) {
		r.buf = r.buf[:0]
		r.start = 0
	} else if r.start > 0 && r.start >= cap(r.buf)/2 {
		n := copy(r.buf, r.buf[r.start:])
		r.buf = r.buf[:n]
		r.start = 0
	}
	r.buf = append(r.buf, chunk...)
}

// Buffered returns the number of bytes held for frames not yet returned.
func (r *Reassembler) Buffered() int {
	return len(r.buf) - r.start
}

// Next returns the next complete frame, header included, or nil when more
// bytes are needed. A framing error is sticky: the stream cannot be
// resynchronized once a header is corrupt.
func (r *Reassembler) Next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	pending := r.buf[r.start:]
	if len(pending) < wire.HeaderSize {
		return nil, nil
	}
	h, err := wire.DecodeHeader(r.order, pending)
	if err != nil {
		r.err = err
		return nil, err
	}
	if h.TotalSize > r.maxSize {
		r.err = fmt.Errorf("%w: %d > %d", wire.ErrPacketTooLarge, h.TotalSize, r.maxSize)
		return nil, r.err
	}
	if uint32(len(pending)) < h.TotalSize {
		return nil, nil
	}
	frame := make([]byte, h.TotalSize)
	copy(frame, pending)
	r.start += int(h.TotalSize)
	return frame, nil
}

// Deliver feeds chunk and hands every complete frame to fn, in order, before
// considering the next. A trailing partial frame is kept for the next call.
// Delivery stops at the first error from fn or from framing.
func (r *Reassembler) Deliver(chunk []byte, fn func(frame []byte) error) error {
	r.Feed(chunk)
	for {
		frame, err := r.Next()
		if err != nil {
			return err
		}
		if frame == nil {
			return nil
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
