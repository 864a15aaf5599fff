package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
	"github.com/cosim-bus/cosim-go/pkg/wire"
)

func TestCollectStats(t *testing.T) {
	path := createTestLogFile(t, sampleSession())

	stats, err := CollectStats(path)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}

	if stats.TotalEvents != 5 {
		t.Errorf("expected 5 events, got %d", stats.TotalEvents)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if len(stats.Connections) != 2 {
		t.Errorf("expected 2 connections, got %d", len(stats.Connections))
	}
	if got := stats.PacketsByType["REQUEST Read"]; got != 1 {
		t.Errorf("expected 1 read request, got %d", got)
	}

	timer := stats.Connections["abc12345-0000"]
	if timer == nil {
		t.Fatal("timer connection missing")
	}
	if timer.DeviceName != "timer" || timer.Events != 3 {
		t.Errorf("unexpected timer stats %+v", timer)
	}
	if timer.RoundTrips != 1 || timer.MeanRoundTrip() != 150*time.Microsecond {
		t.Errorf("unexpected round trips %+v", timer)
	}
	if d := timer.LastSeen.Sub(timer.FirstSeen); d != 2*time.Millisecond {
		t.Errorf("unexpected connection span %s", d)
	}
}

func TestRunStatsOutput(t *testing.T) {
	path := createTestLogFile(t, sampleSession())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 5",
		"BUS:",
		"WIRE:",
		"STATE:",
		"ERROR:",
		"EVENT SetIRQ:",
		"Connections: 2",
		"[abc12345] 3 events",
		"Device: timer",
		"Round trips: 1 (mean 150.000us, max 150.000us)",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestCollectStatsBusLayerRoundTrip(t *testing.T) {
	rt := 80 * time.Microsecond
	resp := &wire.ErrorResponse{ID: 9}
	timed := log.NewPacketEvent(resp)
	timed.RoundTrip = &rt

	path := createTestLogFile(t, []log.Event{
		{
			Timestamp: testTime, ConnectionID: "abc12345-0000", DeviceName: "timer",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Packet: log.NewPacketEvent(resp),
		},
		{
			Timestamp: testTime, ConnectionID: "abc12345-0000", DeviceName: "timer",
			Direction: log.DirectionIn, Layer: log.LayerBus, Category: log.CategoryMessage,
			Packet: timed,
		},
	})

	stats, err := CollectStats(path)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}
	if got := stats.PacketsByType["RESPONSE Error"]; got != 1 {
		t.Errorf("expected the response counted once, got %d", got)
	}
	timer := stats.Connections["abc12345-0000"]
	if timer == nil || timer.RoundTrips != 1 || timer.RoundTripMax != rt {
		t.Errorf("unexpected round trips %+v", timer)
	}
}
