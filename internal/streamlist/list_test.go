package streamlist

import (
	"testing"

	"audiosrv/internal/wire"
)

func TestCreateDestroy(t *testing.T) {
	l := New()
	rs := &RStream{Direction: wire.Output}
	if _, err := l.Create(1, rs); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", l.Count())
	}
	if got := l.Get(1); got != rs {
		t.Fatalf("Get(1) = %v, want %v", got, rs)
	}
	if _, err := l.Destroy(1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if l.Count() != 0 {
		t.Fatalf("Count() after destroy = %d, want 0", l.Count())
	}
}

func TestCreateDuplicateID(t *testing.T) {
	l := New()
	l.Create(1, &RStream{})
	if _, err := l.Create(1, &RStream{}); err == nil {
		t.Fatalf("expected error on duplicate id")
	}
}

func TestHasPinned(t *testing.T) {
	l := New()
	l.Create(1, &RStream{IsPinned: true, PinnedDevIdx: 5})
	if !l.HasPinned(5) {
		t.Fatalf("expected HasPinned(5) true")
	}
	if l.HasPinned(6) {
		t.Fatalf("expected HasPinned(6) false")
	}
}

func TestOnChangedFiresOnMutation(t *testing.T) {
	l := New()
	calls := 0
	l.SetOnChanged(func() { calls++ })
	l.Create(1, &RStream{})
	l.Destroy(1)
	if calls != 2 {
		t.Fatalf("onChanged called %d times, want 2", calls)
	}
}

func TestIter(t *testing.T) {
	l := New()
	l.Create(1, &RStream{Direction: wire.Output})
	l.Create(2, &RStream{Direction: wire.Input})
	seen := map[uint32]bool{}
	l.Iter(func(rs *RStream) { seen[rs.ID] = true })
	if len(seen) != 2 {
		t.Fatalf("Iter saw %d streams, want 2", len(seen))
	}
}
