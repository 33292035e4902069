package iodev

import (
	"time"

	"audiosrv/internal/format"
)

// FallbackBackend is a silent device that accepts every sample format and
// channel count at the rates listed by SupportedRates, and never
// underruns: output frames read back as zeroed buffers, input frames are
// always "available" but silent (spec §3/§4.6's fallback device, used when
// no real device is enabled for a direction).
type FallbackBackend struct {
	f         format.Format
	numFrames int
	buf       []byte
	open      bool
}

// NewFallbackBackend returns an unopened fallback backend.
func NewFallbackBackend() *FallbackBackend { return &FallbackBackend{} }

func (fb *FallbackBackend) Open(cbThreshold int, f format.Format) error {
	fb.f = f
	fb.numFrames = cbThreshold
	fb.buf = make([]byte, f.BytesPerFrame()*cbThreshold)
	fb.open = true
	return nil
}

func (fb *FallbackBackend) Close() error {
	fb.open = false
	return nil
}

func (fb *FallbackBackend) GetBuffer(maxFrames int) ([]byte, int, error) {
	frames := fb.numFrames
	if frames > maxFrames {
		frames = maxFrames
	}
	n := frames * fb.f.BytesPerFrame()
	for i := range fb.buf[:n] {
		fb.buf[i] = 0
	}
	return fb.buf[:n], frames, nil
}

func (fb *FallbackBackend) PutBuffer(framesDone int) error { return nil }

func (fb *FallbackBackend) FramesQueued() (int, time.Time, error) {
	return 0, time.Now(), nil
}

func (fb *FallbackBackend) DelayFrames() (int, error) { return 0, nil }

// SupportedFormats/ChannelCounts cover every sample format and channel
// count so routing always has somewhere to go (spec §4.7); SupportedRates
// is a fixed list of common rates, and Device.Open rejects any other rate.
func (fb *FallbackBackend) SupportedRates() []uint32 {
	return []uint32{8000, 16000, 22050, 24000, 32000, 44100, 48000, 96000}
}

func (fb *FallbackBackend) SupportedFormats() []format.SampleFormat {
	return []format.SampleFormat{format.U8, format.S16LE, format.S24LE, format.S32LE}
}

func (fb *FallbackBackend) SupportedChannelCounts() []int {
	out := make([]int, format.CHMax)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func (fb *FallbackBackend) MaxSupportedChannels() int { return format.CHMax }
