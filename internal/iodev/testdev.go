package iodev

import (
	"math"
	"time"

	"audiosrv/internal/format"
)

// ToneBackend is a synthetic device that plays (or "records") a pure sine
// tone instead of touching real hardware, supplementing spec §1's core
// scope with the ADD_TEST_DEV facility from original_source (a
// deterministic device for integration tests that doesn't depend on CI
// machines having real audio hardware).
type ToneBackend struct {
	f         format.Format
	numFrames int
	buf       []byte

	freqHz float64
	phase  float64
}

// NewToneBackend returns a tone backend at freqHz (e.g. 440.0 for A4).
func NewToneBackend(freqHz float64) *ToneBackend {
	return &ToneBackend{freqHz: freqHz}
}

func (tb *ToneBackend) Open(cbThreshold int, f format.Format) error {
	tb.f = f
	tb.numFrames = cbThreshold
	tb.buf = make([]byte, f.BytesPerFrame()*cbThreshold)
	return nil
}

func (tb *ToneBackend) Close() error { return nil }

func (tb *ToneBackend) GetBuffer(maxFrames int) ([]byte, int, error) {
	frames := tb.numFrames
	if frames > maxFrames {
		frames = maxFrames
	}
	step := 2 * math.Pi * tb.freqHz / float64(tb.f.RateHz)
	bpf := tb.f.BytesPerFrame()
	chans := int(tb.f.NumChannels)
	sampleBytes := bpf / chans

	for i := 0; i < frames; i++ {
		sample := math.Sin(tb.phase)
		tb.phase += step
		if tb.phase > 2*math.Pi {
			tb.phase -= 2 * math.Pi
		}
		for c := 0; c < chans; c++ {
			off := i*bpf + c*sampleBytes
			writeSample(tb.buf[off:off+sampleBytes], sample, tb.f.SampleFormat)
		}
	}
	return tb.buf[:frames*bpf], frames, nil
}

func (tb *ToneBackend) PutBuffer(framesDone int) error { return nil }

func (tb *ToneBackend) FramesQueued() (int, time.Time, error) {
	return 0, time.Now(), nil
}

func (tb *ToneBackend) DelayFrames() (int, error) { return 0, nil }

func (tb *ToneBackend) SupportedRates() []uint32 {
	return []uint32{8000, 16000, 44100, 48000}
}

func (tb *ToneBackend) SupportedFormats() []format.SampleFormat {
	return []format.SampleFormat{format.S16LE, format.S24LE, format.S32LE}
}

func (tb *ToneBackend) SupportedChannelCounts() []int { return []int{1, 2} }

func (tb *ToneBackend) MaxSupportedChannels() int { return 2 }

// writeSample encodes one sample in [-1,1] into the given sample format.
func writeSample(dst []byte, v float64, sf format.SampleFormat) {
	switch sf {
	case format.S16LE:
		s := int16(v * 32767)
		dst[0] = byte(s)
		dst[1] = byte(s >> 8)
	case format.S24LE:
		s := int32(v * 8388607)
		dst[0] = byte(s)
		dst[1] = byte(s >> 8)
		dst[2] = byte(s >> 16)
	case format.S32LE:
		s := int32(v * 2147483647)
		dst[0] = byte(s)
		dst[1] = byte(s >> 8)
		dst[2] = byte(s >> 16)
		dst[3] = byte(s >> 24)
	default:
		dst[0] = byte(v*127 + 128)
	}
}
