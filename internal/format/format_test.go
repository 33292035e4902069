package format

import "testing"

func TestBytesPerFrame(t *testing.T) {
	f := Format{SampleFormat: S16LE, RateHz: 48000, NumChannels: 2}
	if got := f.BytesPerFrame(); got != 4 {
		t.Fatalf("BytesPerFrame() = %d, want 4", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		f       Format
		wantErr bool
	}{
		{"ok", Format{SampleFormat: S16LE, RateHz: 48000, NumChannels: 2}, false},
		{"zero rate", Format{SampleFormat: S16LE, RateHz: 0, NumChannels: 2}, true},
		{"zero channels", Format{SampleFormat: S16LE, RateHz: 48000, NumChannels: 0}, true},
		{"too many channels", Format{SampleFormat: S16LE, RateHz: 48000, NumChannels: CHMax + 1}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.f.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, c.wantErr)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	a := Format{SampleFormat: S16LE, RateHz: 48000, NumChannels: 2}
	b := a
	if !a.Equal(b) {
		t.Fatalf("expected equal formats")
	}
	b.RateHz = 44100
	if a.Equal(b) {
		t.Fatalf("expected unequal formats")
	}
}
