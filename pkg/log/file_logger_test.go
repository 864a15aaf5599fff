package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.clog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "c1", Layer: LayerTransport, Frame: &FrameEvent{Size: 16}},
		{Timestamp: base.Add(time.Millisecond), ConnectionID: "c1", Layer: LayerWire, DeviceName: "timer",
			Packet: NewPacketEvent(&wire.InitEvent{})},
		{Timestamp: base.Add(2 * time.Millisecond), ConnectionID: "c2", Layer: LayerBus, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityDevice, NewState: "CLOSED"}},
	}
	path := createTestLogFile(t, events)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	got := readAll(t, r)
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].ConnectionID != events[i].ConnectionID || !got[i].Timestamp.Equal(events[i].Timestamp) {
			t.Errorf("event %d = %+v, want %+v", i, got[i], events[i])
		}
	}
	if got[1].Packet == nil || got[1].Packet.TypeName() != "Init" {
		t.Errorf("event 1 packet = %+v", got[1].Packet)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := createTestLogFile(t, []Event{{ConnectionID: "a"}})

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(Event{ConnectionID: "b"})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got := readAll(t, r); len(got) != 2 {
		t.Fatalf("got %d events after append, want 2", len(got))
	}
}

func TestFileLoggerCloseIdempotentAndIgnoresLateEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.clog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	logger.Log(Event{ConnectionID: "late"})

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("file size = %d, want 0", info.Size())
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.clog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				logger.Log(Event{ConnectionID: "c", Packet: NewPacketEvent(&wire.ExitEvent{})})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got := readAll(t, r); len(got) != 400 {
		t.Errorf("got %d events, want 400", len(got))
	}
}

func TestFilteredReader(t *testing.T) {
	in := DirectionIn
	layer := LayerWire
	kind := wire.KindRequest
	events := []Event{
		{ConnectionID: "a", DeviceName: "uart", Direction: DirectionIn, Layer: LayerWire,
			Packet: NewPacketEvent(&wire.ReadRequest{ID: 1})},
		{ConnectionID: "a", DeviceName: "uart", Direction: DirectionOut, Layer: LayerWire,
			Packet: NewPacketEvent(&wire.DataResponse{ID: 1})},
		{ConnectionID: "b", DeviceName: "timer", Direction: DirectionIn, Layer: LayerTransport,
			Frame: &FrameEvent{Size: 8}},
	}
	path := createTestLogFile(t, events)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"device", Filter{DeviceName: "uart"}, 2},
		{"direction in", Filter{Direction: &in}, 2},
		{"wire layer", Filter{Layer: &layer}, 2},
		{"requests", Filter{Kind: &kind}, 1},
		{"connection b", Filter{ConnectionID: "b"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if got := readAll(t, r); len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFilterTimeWindow(t *testing.T) {
	start := time.Unix(100, 0)
	end := time.Unix(200, 0)
	f := Filter{TimeStart: &start, TimeEnd: &end}

	if f.Matches(Event{Timestamp: time.Unix(99, 0)}) {
		t.Error("event before window matched")
	}
	if !f.Matches(Event{Timestamp: start}) {
		t.Error("event at window start did not match")
	}
	if f.Matches(Event{Timestamp: end}) {
		t.Error("event at window end matched")
	}
}
