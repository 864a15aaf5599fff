package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

func TestViewFormatsPackets(t *testing.T) {
	path := createTestLogFile(t, sampleSession())

	var buf bytes.Buffer
	if err := RunView(path, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.124456Z [conn:abc12345] OUT WIRE Read timer",
		"VirtualTime: 1000 ns",
		"Read id=7 addr=0x10000008 len=4",
		"RoundTrip: 150.000us",
		"SetIRQ line=5 level=PULSE",
		"Entity: LIFECYCLE",
		"-> INIT",
		"Message: address error",
		"Code: 1",
		"Context: dma read",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
}

func TestViewAppliesFilter(t *testing.T) {
	path := createTestLogFile(t, sampleSession())

	kind := wire.KindResponse
	var buf bytes.Buffer
	if err := RunView(path, log.Filter{Kind: &kind}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "Data id=7 len=4") {
		t.Errorf("expected the response, got:\n%s", output)
	}
	if strings.Contains(output, "SetIRQ") || strings.Contains(output, "INIT") {
		t.Errorf("filter let other events through:\n%s", output)
	}
}

func TestViewFrame(t *testing.T) {
	path := createTestLogFile(t, []log.Event{{
		Timestamp: testTime, Layer: log.LayerTransport,
		Frame: &log.FrameEvent{Size: 300, Data: []byte{0xde, 0xad}, Truncated: true},
	}})

	var buf bytes.Buffer
	if err := RunView(path, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Data: dead (truncated)") {
		t.Errorf("unexpected frame output:\n%s", buf.String())
	}
}

func TestViewMissingFile(t *testing.T) {
	if err := RunView("/nonexistent/file.cbor", log.Filter{}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFilterOptionsBuild(t *testing.T) {
	tests := []struct {
		name    string
		opts    FilterOptions
		wantErr bool
		check   func(t *testing.T, f log.Filter)
	}{
		{
			name: "all fields",
			opts: FilterOptions{
				ConnID: "abc", Device: "timer", Layer: "WIRE", Direction: "out",
				Category: "message", Kind: "request",
				TimeStart: "2026-01-28T10:00:00Z", TimeEnd: "2026-01-28T11:00:00.5Z",
			},
			check: func(t *testing.T, f log.Filter) {
				if f.ConnectionID != "abc" || f.DeviceName != "timer" {
					t.Errorf("ids not copied: %+v", f)
				}
				if f.Layer == nil || *f.Layer != log.LayerWire {
					t.Error("layer not set")
				}
				if f.Direction == nil || *f.Direction != log.DirectionOut {
					t.Error("direction not set")
				}
				if f.Kind == nil || *f.Kind != wire.KindRequest {
					t.Error("kind not set")
				}
				if f.TimeEnd == nil || f.TimeEnd.Nanosecond() != 500_000_000 {
					t.Error("time-end not parsed")
				}
			},
		},
		{name: "empty", opts: FilterOptions{}, check: func(t *testing.T, f log.Filter) {
			if f.Layer != nil || f.Kind != nil || f.TimeStart != nil {
				t.Errorf("expected empty filter, got %+v", f)
			}
		}},
		{name: "bad layer", opts: FilterOptions{Layer: "service"}, wantErr: true},
		{name: "bad direction", opts: FilterOptions{Direction: "up"}, wantErr: true},
		{name: "bad category", opts: FilterOptions{Category: "control"}, wantErr: true},
		{name: "bad kind", opts: FilterOptions{Kind: "notify"}, wantErr: true},
		{name: "bad time", opts: FilterOptions{TimeStart: "yesterday"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.opts.Build()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, f)
		})
	}
}
