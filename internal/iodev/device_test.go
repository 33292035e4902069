package iodev

import (
	"testing"

	"audiosrv/internal/format"
)

func testFormat() format.Format {
	return format.Format{SampleFormat: format.S16LE, RateHz: 48000, NumChannels: 2}
}

func TestDeviceOpenCloseLifecycle(t *testing.T) {
	d := NewDevice(1, 0, "test-fallback", NewFallbackBackend())
	if d.IsOpen() {
		t.Fatalf("new device should start CLOSE")
	}
	if err := d.Open(480, testFormat()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// FallbackBackend has no Starter, so Open should land directly in
	// NORMAL_RUN rather than OPEN.
	if got := d.State(); got != NormalRun {
		t.Fatalf("State() = %s, want NORMAL_RUN", got)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.IsOpen() {
		t.Fatalf("expected CLOSE after Close")
	}
}

func TestDeviceOpenRejectsUnsupportedFormat(t *testing.T) {
	d := NewDevice(1, 0, "test-tone", NewToneBackend(440))
	bad := format.Format{SampleFormat: format.S16LE, RateHz: 999, NumChannels: 2}
	if err := d.Open(480, bad); err == nil {
		t.Fatalf("expected error opening unsupported rate")
	}
}

func TestDeviceAttachDetachStream(t *testing.T) {
	d := NewDevice(1, 0, "test", NewFallbackBackend())
	d.AttachStream(5)
	d.AttachStream(5)
	if !d.HasStreams() {
		t.Fatalf("expected HasStreams true")
	}
	if len(d.Streams) != 1 {
		t.Fatalf("expected dedup, got %v", d.Streams)
	}
	d.DetachStream(5)
	if d.HasStreams() {
		t.Fatalf("expected no streams after detach")
	}
}

func TestDeviceActiveNode(t *testing.T) {
	d := NewDevice(1, 0, "test", NewFallbackBackend())
	d.Nodes = []*Node{{DevIdx: 1, Idx: 2, Type: NodeSpeaker}}
	if n := d.ActiveNode(); n != nil {
		t.Fatalf("expected nil active node before selection")
	}
	if err := d.SetActiveNode(2); err != nil {
		t.Fatalf("SetActiveNode: %v", err)
	}
	n := d.ActiveNode()
	if n == nil || n.Idx != 2 {
		t.Fatalf("ActiveNode() = %v, want idx 2", n)
	}
	if err := d.SetActiveNode(99); err == nil {
		t.Fatalf("expected error for unknown node")
	}
}

func TestOutputVolume(t *testing.T) {
	cases := []struct{ sys, node, want int }{
		{100, 100, 100},
		{50, 100, 50},
		{50, 50, 0},
		{0, 100, 0},
	}
	for _, c := range cases {
		if got := OutputVolume(c.sys, c.node); got != c.want {
			t.Errorf("OutputVolume(%d,%d) = %d, want %d", c.sys, c.node, got, c.want)
		}
	}
}

func TestLoopbackControlHookFiresOnOpenClose(t *testing.T) {
	d := NewDevice(1, 0, "test", NewFallbackBackend())
	var got []bool
	idx := d.RegisterLoopback(&Loopback{Type: LoopbackPostDSP, ControlHook: func(enabled bool) { got = append(got, enabled) }})

	if err := d.Open(480, testFormat()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("control hook fired %v, want [true false]", got)
	}

	d.UnregisterLoopback(idx)
	if err := d.Open(480, testFormat()); err != nil {
		t.Fatalf("Open after unregister: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("control hook fired after unregister, got %v", got)
	}
}

func TestLoopbackDataHookOnlyFiresForMatchingStage(t *testing.T) {
	d := NewDevice(1, 0, "test", NewFallbackBackend())
	var preCount, postCount int
	d.RegisterLoopback(&Loopback{Type: LoopbackPreDSP, DataHook: func([]byte) { preCount++ }})
	d.RegisterLoopback(&Loopback{Type: LoopbackPostDSP, DataHook: func([]byte) { postCount++ }})

	d.DeliverLoopbackBlock(LoopbackPreDSP, []byte{1, 2, 3})
	if preCount != 1 || postCount != 0 {
		t.Fatalf("preCount=%d postCount=%d, want 1,0", preCount, postCount)
	}
}

func TestStreamIDsReturnsDefensiveCopy(t *testing.T) {
	d := NewDevice(1, 0, "test", NewFallbackBackend())
	d.AttachStream(7)
	ids := d.StreamIDs()
	ids[0] = 99
	if d.Streams[0] != 7 {
		t.Fatalf("StreamIDs mutation leaked into Device.Streams: %v", d.Streams)
	}
}

func TestNoStreamRunToggle(t *testing.T) {
	d := NewDevice(1, 0, "test", NewFallbackBackend())
	if err := d.Open(480, testFormat()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// FallbackBackend implements no NoStreamer, so this should be a no-op
	// state toggle without error.
	if err := d.SetNoStreamRun(true); err != nil {
		t.Fatalf("SetNoStreamRun(true): %v", err)
	}
	if got := d.State(); got != NoStreamRun {
		t.Fatalf("State() = %s, want NO_STREAM_RUN", got)
	}
}
