package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

var testTime = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.cbor")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

// sampleSession is a short capture: one read round trip and an IRQ.
func sampleSession() []log.Event {
	rt := 150 * time.Microsecond
	resp := log.NewPacketEvent(&wire.DataResponse{ID: 7, Data: []byte{1, 2, 3, 4}})
	resp.RoundTrip = &rt
	code := int(wire.ErrCodeAddress)

	return []log.Event{
		{
			Timestamp: testTime, Layer: log.LayerBus, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityLifecycle, NewState: "INIT"},
		},
		{
			Timestamp: testTime.Add(time.Millisecond), ConnectionID: "abc12345-0000", DeviceName: "timer",
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage, VirtualTime: 1000,
			Packet: log.NewPacketEvent(&wire.ReadRequest{ID: 7, Address: 0x1000_0008, Length: 4}),
		},
		{
			Timestamp: testTime.Add(2 * time.Millisecond), ConnectionID: "abc12345-0000", DeviceName: "timer",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage, VirtualTime: 1000,
			Packet: resp,
		},
		{
			Timestamp: testTime.Add(3 * time.Millisecond), ConnectionID: "abc12345-0000", DeviceName: "timer",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Packet: log.NewPacketEvent(&wire.SetIRQEvent{Line: 5, Level: wire.IRQPulse}),
		},
		{
			Timestamp: testTime.Add(4 * time.Millisecond), ConnectionID: "def67890-0000", DeviceName: "uart",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerWire, Message: "address error", Code: &code, Context: "dma read"},
		},
	}
}
