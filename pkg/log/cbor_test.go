package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/wire"
)

func TestEncodeDecodeEventPreservesNanoseconds(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	rt := 1500 * time.Microsecond

	in := Event{
		Timestamp:    ts,
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		LocalRole:    RoleBus,
		DeviceName:   "uart0",
		VirtualTime:  42_000,
		Packet: &PacketEvent{
			Kind:      wire.KindResponse,
			Type:      wire.TypeData,
			ID:        9,
			Summary:   "Data id=9 len=4",
			RoundTrip: &rt,
		},
	}

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if !out.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, ts)
	}
	if out.DeviceName != "uart0" || out.VirtualTime != 42_000 {
		t.Errorf("identity fields not preserved: %+v", out)
	}
	if out.Packet == nil {
		t.Fatal("packet payload lost")
	}
	if out.Packet.ID != 9 || out.Packet.TypeName() != "Data" {
		t.Errorf("packet = %+v", out.Packet)
	}
	if out.Packet.RoundTrip == nil || *out.Packet.RoundTrip != rt {
		t.Errorf("round trip = %v, want %v", out.Packet.RoundTrip, rt)
	}
}

func TestEncodeEventDeterministic(t *testing.T) {
	ev := Event{
		Timestamp:    time.Unix(0, 1),
		ConnectionID: "c",
		StateChange:  &StateChangeEvent{Entity: StateEntityDevice, OldState: "CONNECTING", NewState: "REGISTERED"},
	}
	a, err := EncodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestNewPacketEventCarriesCorrelationID(t *testing.T) {
	tests := []struct {
		name   string
		pkt    wire.Packet
		wantID uint32
	}{
		{"request", &wire.ReadRequest{ID: 5, Address: 0x10, Length: 4}, 5},
		{"response", &wire.ErrorResponse{ID: 6}, 6},
		{"event", &wire.SetIRQEvent{Line: 1, Level: wire.IRQRaise}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := NewPacketEvent(tt.pkt)
			if pe.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", pe.ID, tt.wantID)
			}
			if pe.Kind != tt.pkt.Kind() || pe.Type != tt.pkt.Type() {
				t.Errorf("kind/type = %s/%d", pe.Kind, pe.Type)
			}
		})
	}
}

func TestEnumStrings(t *testing.T) {
	if LayerBus.String() != "BUS" {
		t.Errorf("LayerBus = %q", LayerBus.String())
	}
	if RoleDevice.String() != "DEVICE" {
		t.Errorf("RoleDevice = %q", RoleDevice.String())
	}
	if StateEntityLifecycle.String() != "LIFECYCLE" {
		t.Errorf("StateEntityLifecycle = %q", StateEntityLifecycle.String())
	}
	if Category(99).String() != "UNKNOWN" {
		t.Errorf("Category(99) = %q", Category(99).String())
	}
}
