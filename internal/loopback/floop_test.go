package loopback

import (
	"testing"

	"audiosrv/internal/wire"
)

func TestRequestFloopReusesMatchingPair(t *testing.T) {
	m := NewFloopManager(100, 200)
	idx1, err := m.RequestFloop(wire.ClientTypeChrome)
	if err != nil {
		t.Fatalf("RequestFloop: %v", err)
	}
	idx2, err := m.RequestFloop(wire.ClientTypeChrome)
	if err != nil {
		t.Fatalf("RequestFloop: %v", err)
	}
	if idx1 != idx2 {
		t.Fatalf("expected same pair reused, got %d and %d", idx1, idx2)
	}
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}
}

func TestRequestFloopCapacity(t *testing.T) {
	m := NewFloopManager(0, 0)
	for i := 0; i < MaxFloopPairs; i++ {
		mask := wire.ClientType(1 << uint(i))
		if _, err := m.RequestFloop(mask); err != nil {
			t.Fatalf("RequestFloop #%d: %v", i, err)
		}
	}
	if _, err := m.RequestFloop(wire.ClientType(1 << 30)); err != ErrFloopCapacity {
		t.Fatalf("expected ErrFloopCapacity, got %v", err)
	}
}

func TestAttachDetachEnablesPair(t *testing.T) {
	m := NewFloopManager(0, 0)
	inputIdx, _ := m.RequestFloop(wire.ClientTypeChrome)

	if got := m.MatchingPairs(wire.ClientTypeChrome); len(got) != 0 {
		t.Fatalf("expected no enabled pairs before attach, got %d", len(got))
	}

	m.AttachStream(inputIdx)
	got := m.MatchingPairs(wire.ClientTypeChrome)
	if len(got) != 1 {
		t.Fatalf("expected 1 enabled pair after attach, got %d", len(got))
	}

	m.DetachStream(inputIdx)
	if got := m.MatchingPairs(wire.ClientTypeChrome); len(got) != 0 {
		t.Fatalf("expected 0 enabled pairs after detach, got %d", len(got))
	}
}
