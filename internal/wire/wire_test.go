package wire

import "testing"

func TestStreamID(t *testing.T) {
	id := NewStreamID(7, 3)
	if got := id.ClientID(); got != 7 {
		t.Fatalf("ClientID() = %d, want 7", got)
	}
	if got := id.StreamIndex(); got != 3 {
		t.Fatalf("StreamIndex() = %d, want 3", got)
	}
}

func TestEffectsHas(t *testing.T) {
	e := EffectAEC | EffectNS
	if !e.Has(EffectAEC) {
		t.Fatalf("expected EffectAEC set")
	}
	if e.Has(EffectAGC) {
		t.Fatalf("did not expect EffectAGC set")
	}
}

func TestDirectionClassification(t *testing.T) {
	cases := []struct {
		d               Direction
		inputLike, outputLike bool
	}{
		{Output, false, true},
		{Input, true, false},
		{PostMixPreDSP, true, false},
		{PostDSP, true, false},
		{PostDSPDelayed, true, false},
	}
	for _, c := range cases {
		if got := c.d.IsInputLike(); got != c.inputLike {
			t.Errorf("Direction(%d).IsInputLike() = %v, want %v", c.d, got, c.inputLike)
		}
		if got := c.d.IsOutputLike(); got != c.outputLike {
			t.Errorf("Direction(%d).IsOutputLike() = %v, want %v", c.d, got, c.outputLike)
		}
	}
}

func TestAudioMessageRoundTrip(t *testing.T) {
	m := AudioMessage{ID: DataReady, Err: 0, Frames: 480}
	buf := m.Encode()
	if len(buf) != AudioMessageSize {
		t.Fatalf("Encode() len = %d, want %d", len(buf), AudioMessageSize)
	}
	got, err := DecodeAudioMessage(buf)
	if err != nil {
		t.Fatalf("DecodeAudioMessage: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestDecodeAudioMessageTruncated(t *testing.T) {
	_, err := DecodeAudioMessage([]byte{1, 2, 3})
	if err == nil {
		t.Fatalf("expected error for truncated buffer")
	}
	if _, ok := err.(*ErrTruncated); !ok {
		t.Fatalf("expected *ErrTruncated, got %T", err)
	}
}

func TestRequireFDs(t *testing.T) {
	msg := &Message{FDs: []int{3, 4}}
	if err := RequireFDs(msg, 2); err != nil {
		t.Fatalf("RequireFDs(2): %v", err)
	}
	if err := RequireFDs(msg, 1); err == nil {
		t.Fatalf("expected ErrBadFDCount")
	}
}
