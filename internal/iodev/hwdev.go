package iodev

import (
	"fmt"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"

	"audiosrv/internal/format"
)

// HWBackend is a real-hardware Backend implemented over portaudio, grounded
// on rustyguts-bken/client/audio.go's AudioEngine.Start/captureLoop/
// playbackLoop: open a []float32-bound stream, then Read()/Write() it each
// period. Unlike the teacher, which hardcodes a single 48kHz mono voice
// format, a hardware device here negotiates whatever format routing picked
// (spec §4.7 can reopen a device at a different rate/channel count), so
// GetBuffer/PutBuffer convert between the negotiated wire format and the
// float32 samples portaudio-go binds to.
type HWBackend struct {
	deviceIdx int // portaudio.Devices() index, -1 for platform default
	isInput   bool

	stream *portaudio.Stream
	pa     []float32 // portaudio-bound buffer, one callback period
	wire   []byte    // converted buffer in the negotiated wire format

	f          format.Format
	numFrames  int
	queuedAt   time.Time
}

// NewHWBackend returns a backend bound to a specific portaudio device index
// (or -1 for the platform default).
func NewHWBackend(deviceIdx int, isInput bool) *HWBackend {
	return &HWBackend{deviceIdx: deviceIdx, isInput: isInput}
}

func (h *HWBackend) resolveDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if h.deviceIdx >= 0 && h.deviceIdx < len(devices) {
		return devices[h.deviceIdx], nil
	}
	if h.isInput {
		return portaudio.DefaultInputDevice()
	}
	return portaudio.DefaultOutputDevice()
}

// Open negotiates a portaudio stream for f at cbThreshold frames per
// callback; the stream does not run until Start is called.
func (h *HWBackend) Open(cbThreshold int, f format.Format) error {
	dev, err := h.resolveDevice()
	if err != nil {
		return fmt.Errorf("hwdev: resolve device: %w", err)
	}

	h.f = f
	h.numFrames = cbThreshold
	h.pa = make([]float32, cbThreshold*int(f.NumChannels))
	h.wire = make([]byte, f.BytesPerFrame()*cbThreshold)

	var params portaudio.StreamParameters
	if h.isInput {
		params = portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: int(f.NumChannels),
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(f.RateHz),
			FramesPerBuffer: cbThreshold,
		}
	} else {
		params = portaudio.StreamParameters{
			Output: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: int(f.NumChannels),
				Latency:  dev.DefaultLowOutputLatency,
			},
			SampleRate:      float64(f.RateHz),
			FramesPerBuffer: cbThreshold,
		}
	}

	stream, err := portaudio.OpenStream(params, h.pa)
	if err != nil {
		return fmt.Errorf("hwdev: open stream: %w", err)
	}
	h.stream = stream
	return nil
}

// Start begins stream I/O (spec §3's CLOSE->OPEN transition).
func (h *HWBackend) Start() error {
	if h.stream == nil {
		return fmt.Errorf("hwdev: start before open")
	}
	return h.stream.Start()
}

// Close stops and releases the stream.
func (h *HWBackend) Close() error {
	if h.stream == nil {
		return nil
	}
	h.stream.Stop()
	err := h.stream.Close()
	h.stream = nil
	return err
}

// GetBuffer reads a period from hardware (input) or hands back the wire
// buffer to be filled (output), converting to/from the float32 samples
// portaudio-go traffics in.
func (h *HWBackend) GetBuffer(maxFrames int) ([]byte, int, error) {
	if h.stream == nil {
		return nil, 0, fmt.Errorf("hwdev: getbuffer while closed")
	}
	frames := h.numFrames
	if frames > maxFrames {
		frames = maxFrames
	}
	if h.isInput {
		if err := h.stream.Read(); err != nil {
			return nil, 0, fmt.Errorf("hwdev: read: %w", err)
		}
		h.queuedAt = time.Now()
		floatToWire(h.pa, h.wire, h.f.SampleFormat)
	}
	n := frames * h.f.BytesPerFrame()
	return h.wire[:n], frames, nil
}

// PutBuffer commits framesDone frames written into the buffer returned by
// the most recent GetBuffer (output devices write to hardware here).
func (h *HWBackend) PutBuffer(framesDone int) error {
	if h.stream == nil {
		return fmt.Errorf("hwdev: putbuffer while closed")
	}
	if !h.isInput {
		wireToFloat(h.wire, h.pa, h.f.SampleFormat)
		if err := h.stream.Write(); err != nil {
			return fmt.Errorf("hwdev: write: %w", err)
		}
		h.queuedAt = time.Now()
	}
	return nil
}

// FramesQueued reports the callback period as a conservative hardware
// queue depth estimate, plus when it was last sampled.
func (h *HWBackend) FramesQueued() (int, time.Time, error) {
	return h.numFrames, h.queuedAt, nil
}

// DelayFrames reports the stream's total reported latency in frames.
func (h *HWBackend) DelayFrames() (int, error) {
	if h.stream == nil {
		return 0, fmt.Errorf("hwdev: delayframes while closed")
	}
	info := h.stream.Info()
	var latency time.Duration
	if h.isInput {
		latency = info.InputLatency
	} else {
		latency = info.OutputLatency
	}
	return int(latency.Seconds() * info.SampleRate), nil
}

// SupportedRates lists the rates this backend will negotiate; portaudio
// itself validates the final choice against the device when Open is
// called, so this is an advisory list of common rates (spec §4.6).
func (h *HWBackend) SupportedRates() []uint32 {
	return []uint32{8000, 16000, 22050, 24000, 44100, 48000, 96000}
}

func (h *HWBackend) SupportedFormats() []format.SampleFormat {
	return []format.SampleFormat{format.S16LE, format.S24LE, format.S32LE}
}

func (h *HWBackend) SupportedChannelCounts() []int {
	return []int{1, 2, 4, 6, 8}
}

func (h *HWBackend) MaxSupportedChannels() int {
	return format.CHMax
}

// floatToWire converts portaudio float32 samples ([-1,1]) into the
// negotiated wire sample format, matching the int16 conversion the teacher
// does for the Opus encoder (captureLoop) generalized to S16LE/S24LE/S32LE.
func floatToWire(src []float32, dst []byte, sf format.SampleFormat) {
	switch sf {
	case format.S16LE:
		for i, s := range src {
			v := int16(clamp(s) * 32767)
			dst[i*2] = byte(v)
			dst[i*2+1] = byte(v >> 8)
		}
	case format.S24LE:
		for i, s := range src {
			v := int32(clamp(s) * 8388607)
			dst[i*3] = byte(v)
			dst[i*3+1] = byte(v >> 8)
			dst[i*3+2] = byte(v >> 16)
		}
	case format.S32LE:
		for i, s := range src {
			v := int32(float64(clamp(s)) * 2147483647)
			dst[i*4] = byte(v)
			dst[i*4+1] = byte(v >> 8)
			dst[i*4+2] = byte(v >> 16)
			dst[i*4+3] = byte(v >> 24)
		}
	default:
		for i, s := range src {
			dst[i] = byte((clamp(s)*127 + 128))
		}
	}
}

// wireToFloat is floatToWire's inverse, used before writing to an output
// stream.
func wireToFloat(src []byte, dst []float32, sf format.SampleFormat) {
	switch sf {
	case format.S16LE:
		for i := range dst {
			v := int16(uint16(src[i*2]) | uint16(src[i*2+1])<<8)
			dst[i] = float32(v) / 32768.0
		}
	case format.S24LE:
		for i := range dst {
			v := int32(src[i*3]) | int32(src[i*3+1])<<8 | int32(src[i*3+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			dst[i] = float32(v) / 8388608.0
		}
	case format.S32LE:
		for i := range dst {
			v := int32(uint32(src[i*4]) | uint32(src[i*4+1])<<8 | uint32(src[i*4+2])<<16 | uint32(src[i*4+3])<<24)
			dst[i] = float32(float64(v) / 2147483648.0)
		}
	default:
		for i := range dst {
			dst[i] = (float32(src[i]) - 128) / 128.0
		}
	}
}

func clamp(v float32) float32 {
	return float32(math.Min(1.0, math.Max(-1.0, float64(v))))
}
