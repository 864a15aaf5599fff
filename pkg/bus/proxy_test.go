package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

func TestReentrantDMAIntoOwnRegion(t *testing.T) {
	b, h := newTestBus(t, nil)
	dev, peer := attachPeer(t, b, registerRequest("self", uartRegion))

	var levels []bool
	h.irq.EXPECT().SetIRQ(uint32(5), true).Run(func(_ uint32, l bool) { levels = append(levels, l) }).Return().Once()
	h.irq.EXPECT().SetIRQ(uint32(5), false).Run(func(_ uint32, l bool) { levels = append(levels, l) }).Return().Once()

	valCh := make(chan uint64, 1)
	go func() {
		valCh <- b.MMIORead(context.Background(), dev, 0x1000, 4)
	}()

	outer := next(t, peer).(*wire.ReadRequest)

	// While the guest read is outstanding the device DMAs into its own
	// register window.
	require.NoError(t, peer.Send(&wire.WriteRequest{ID: 500, Address: 0x1010, Data: []byte{1, 2, 3, 4}}))

	inner := next(t, peer).(*wire.WriteRequest)
	assert.Equal(t, uint64(0x1010), inner.Address)
	assert.Equal(t, []byte{1, 2, 3, 4}, inner.Data)
	assert.NotEqual(t, outer.ID, inner.ID)
	assert.Equal(t, RequestState{Awaiting: true, ID: inner.ID}, dev.RequestState())
	assert.Equal(t, 2, b.FreezeDepth())
	freezes, _ := h.clock.counts()
	assert.Equal(t, 1, freezes, "nested guards freeze the clock once")

	// Traffic interleaved with the nested response goes through dispatch.
	require.NoError(t, peer.Send(&wire.SetIRQEvent{Line: 5, Level: wire.IRQPulse}))
	require.NoError(t, peer.Send(&wire.ErrorResponse{ID: inner.ID, Code: wire.ErrCodeOK}))

	dmaReply := next(t, peer)
	assert.Equal(t, &wire.ErrorResponse{ID: 500, Code: wire.ErrCodeOK}, dmaReply)

	require.NoError(t, peer.Send(&wire.DataResponse{ID: outer.ID, Data: []byte{0xEF, 0xBE, 0xAD, 0xDE}}))
	assert.Equal(t, uint64(0xDEADBEEF), <-valCh)

	assert.Equal(t, []bool{true, false}, levels)
	assert.Zero(t, b.FreezeDepth())
	freezes, unfreezes := h.clock.counts()
	assert.Equal(t, 1, freezes)
	assert.Equal(t, 1, unfreezes)
	assert.Equal(t, RequestState{}, dev.RequestState())
}

func TestDMA(t *testing.T) {
	b, h := newTestBus(t, nil)
	_, peer := attachPeer(t, b, registerRequest("dma", uartRegion))
	copy(h.mem.ram[0x100:], []byte("hello"))

	tests := []struct {
		name string
		req  wire.Packet
		want wire.Packet
	}{
		{"read", &wire.ReadRequest{ID: 1, Address: 0x100, Length: 5}, &wire.DataResponse{ID: 1, Data: []byte("hello")}},
		{"read zero length", &wire.ReadRequest{ID: 2, Address: 0x100, Length: 0}, &wire.DataResponse{ID: 2, Data: []byte{}}},
		{"read unmapped", &wire.ReadRequest{ID: 3, Address: 0x5000_0000, Length: 4}, &wire.ErrorResponse{ID: 3, Code: wire.ErrCodeAddress}},
		{"read too large", &wire.ReadRequest{ID: 4, Address: 0, Length: 1 << 30}, &wire.ErrorResponse{ID: 4, Code: wire.ErrCodeLength}},
		{"write", &wire.WriteRequest{ID: 5, Address: 0x200, Data: []byte{9, 8, 7}}, &wire.ErrorResponse{ID: 5, Code: wire.ErrCodeOK}},
		{"write zero length", &wire.WriteRequest{ID: 6, Address: 0x200, Data: []byte{}}, &wire.ErrorResponse{ID: 6, Code: wire.ErrCodeOK}},
		{"write unmapped", &wire.WriteRequest{ID: 7, Address: 0xFFFF_0000, Data: []byte{1}}, &wire.ErrorResponse{ID: 7, Code: wire.ErrCodeAddress}},
		{"get time", &wire.GetTimeRequest{ID: 8}, &wire.TimeResponse{ID: 8, TimeNS: 777}},
	}

	h.clock.AdvanceTo(777)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, peer.Send(tt.req))
			assert.Equal(t, tt.want, next(t, peer))
		})
	}
	got := make([]byte, 3)
	require.NoError(t, h.mem.ReadPhysical(context.Background(), 0x200, got))
	assert.Equal(t, []byte{9, 8, 7}, got)
}

func TestErrorCodeMapping(t *testing.T) {
	assert.Equal(t, wire.ErrCodeOK, errorCode(nil))
	assert.Equal(t, wire.ErrCodeAddress, errorCode(ErrGuestAddress))
	assert.Equal(t, wire.ErrCodeLength, errorCode(ErrGuestLength))
	assert.Equal(t, wire.ErrCodeUnsupported, errorCode(ErrGuestUnsupported))
	assert.Equal(t, wire.ErrCodeState, errorCode(ErrGuestState))
	assert.Equal(t, wire.ErrCodeAddress, errorCode(assert.AnError))
}

func TestSetIRQValidation(t *testing.T) {
	b, h := newTestBus(t, func(c *Config) { c.IRQCount = 8 })
	dev, peer := attachPeer(t, b, registerRequest("irq"))

	h.irq.EXPECT().SetIRQ(uint32(7), true).Return().Once()
	h.irq.EXPECT().SetIRQ(uint32(0), false).Return().Once()

	require.NoError(t, peer.Send(&wire.SetIRQEvent{Line: 8, Level: wire.IRQRaise}))
	require.NoError(t, peer.Send(&wire.SetIRQEvent{Line: 1, Level: wire.IRQLevel(9)}))
	require.NoError(t, peer.Send(&wire.SetIRQEvent{Line: 7, Level: wire.IRQRaise}))
	require.NoError(t, peer.Send(&wire.SetIRQEvent{Line: 0, Level: wire.IRQLower}))

	// Protocol errors keep the connection.
	require.NoError(t, peer.Send(&wire.GetTimeRequest{ID: 1}))
	assert.IsType(t, &wire.TimeResponse{}, next(t, peer))
	assert.Equal(t, StatusRegistered, dev.Status())
}

func TestWrongDirectionEventsIgnored(t *testing.T) {
	b, _ := newTestBus(t, nil)
	dev, peer := attachPeer(t, b, registerRequest("dev"))

	require.NoError(t, peer.Send(&wire.InitEvent{}))
	require.NoError(t, peer.Send(&wire.TriggerEvent{ExpireTime: 1}))
	require.NoError(t, peer.Send(&wire.GetTimeRequest{ID: 2}))
	assert.IsType(t, &wire.TimeResponse{}, next(t, peer))
	assert.Equal(t, StatusRegistered, dev.Status())
}
