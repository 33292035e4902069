package sab

import "testing"

func TestWriteFlipReadRoundTrip(t *testing.T) {
	buf, err := New(4, 8) // 4 bytes/frame, 8 frames/half
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := make([]byte, 4*4) // 4 frames
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	n, err := buf.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write() = %d, want %d", n, len(payload))
	}
	frames := buf.FlipWrite()
	if frames != 4 {
		t.Fatalf("FlipWrite() = %d, want 4", frames)
	}

	if got := buf.ReadableFrames(); got != 4 {
		t.Fatalf("ReadableFrames() = %d, want 4", got)
	}

	out := make([]byte, 4*4)
	read, err := buf.Read(out, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if read != 4 {
		t.Fatalf("Read() = %d, want 4", read)
	}
	for i := range payload {
		if out[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, out[i], payload[i])
		}
	}

	if err := buf.CheckInvariant(); err != nil {
		t.Fatalf("CheckInvariant: %v", err)
	}
}

func TestReadClampsToAvailable(t *testing.T) {
	buf, _ := New(4, 8)
	buf.Write(make([]byte, 8)) // 2 frames
	buf.FlipWrite()

	out := make([]byte, 4*8)
	n, err := buf.Read(out, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 {
		t.Fatalf("Read() = %d, want 2 (clamped)", n)
	}
}

func TestOverrunAccounting(t *testing.T) {
	buf, _ := New(4, 8)
	if got := buf.Header.OverrunFrames(); got != 0 {
		t.Fatalf("initial OverrunFrames() = %d, want 0", got)
	}
	buf.RecordOverrun(5)
	buf.RecordOverrun(3)
	if got := buf.Header.OverrunFrames(); got != 8 {
		t.Fatalf("OverrunFrames() = %d, want 8", got)
	}
}

func TestVolumeScalerClamped(t *testing.T) {
	h := &Header{}
	h.SetVolumeScaler(2.0)
	if got := h.VolumeScaler(); got != 1.0 {
		t.Fatalf("VolumeScaler() = %v, want 1.0", got)
	}
	h.SetVolumeScaler(-1.0)
	if got := h.VolumeScaler(); got != 0.0 {
		t.Fatalf("VolumeScaler() = %v, want 0.0", got)
	}
}

func TestHeaderVersionMismatch(t *testing.T) {
	buf, _ := New(4, 8)
	if err := buf.Header.CheckVersion(headerVersion); err != nil {
		t.Fatalf("CheckVersion(matching): %v", err)
	}
	if err := buf.Header.CheckVersion(headerVersion + 1); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
