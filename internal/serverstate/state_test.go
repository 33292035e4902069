package serverstate

import (
	"sync"
	"testing"
)

func TestSystemVolumeRoundTrip(t *testing.T) {
	s := New()
	s.SetSystemVolume(42)
	if got := s.SystemVolume(); got != 42 {
		t.Fatalf("SystemVolume() = %d, want 42", got)
	}
}

func TestEffectiveOutputMute(t *testing.T) {
	s := New()
	if s.EffectiveOutputMute() {
		t.Fatalf("expected unmuted by default")
	}
	s.SetSystemMute(true)
	if !s.EffectiveOutputMute() {
		t.Fatalf("expected muted after SetSystemMute(true)")
	}
	s.SetSystemMute(false)
	s.SetUserMute(true)
	if !s.EffectiveOutputMute() {
		t.Fatalf("expected muted after SetUserMute(true)")
	}
}

func TestNodesRoundTrip(t *testing.T) {
	s := New()
	want := []NodeSnapshot{{DevIdx: 1, NodeIdx: 2, Type: "HEADPHONE", Volume: 80, Active: true}}
	s.SetNodes(want)
	got := s.Nodes()
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("Nodes() = %+v, want %+v", got, want)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				s.SetSystemVolume(i % 100)
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				// New starts at 100, which a reader can observe before
				// the writer's first store.
				vol := s.SystemVolume()
				if vol < 0 || vol > 100 {
					t.Errorf("observed out-of-range volume %d", vol)
				}
			}
		}()
	}

	close(stop)
	wg.Wait()
}

func TestGainToScalerMapping(t *testing.T) {
	const maxGain = 2000
	mid := GainToScaler(50, maxGain)
	if mid < 0.99 || mid > 1.01 {
		t.Fatalf("GainToScaler(50) = %v, want ~1.0 (0 dBFS)", mid)
	}
	low := GainToScaler(0, maxGain)
	if low >= mid {
		t.Fatalf("GainToScaler(0) = %v, want < GainToScaler(50) = %v", low, mid)
	}
	high := GainToScaler(100, maxGain)
	if high <= mid {
		t.Fatalf("GainToScaler(100) = %v, want > GainToScaler(50) = %v", high, mid)
	}
}
