package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

func TestReaderStopsAtTruncatedEvent(t *testing.T) {
	path := createTestLogFile(t, []Event{
		{ConnectionID: "first", Layer: LayerWire},
		{ConnectionID: "second", Layer: LayerWire, Packet: NewPacketEvent(&wire.GetTimeRequest{ID: 9})},
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := readAll(t, r)
	if len(got) != 1 || got[0].ConnectionID != "first" {
		t.Errorf("expected only the complete event, got %+v", got)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "none.cbor")); err == nil {
		t.Error("expected error for missing file")
	}
}
