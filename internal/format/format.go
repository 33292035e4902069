// Package format defines the negotiated PCM audio format shared by streams
// and devices (spec §3).
package format

import "fmt"

// SampleFormat is one of the little-endian PCM sample encodings the server
// accepts. Other endiannesses are rejected at stream setup (spec §3).
type SampleFormat int

const (
	U8 SampleFormat = iota
	S16LE
	S24LE
	S32LE
)

func (f SampleFormat) String() string {
	switch f {
	case U8:
		return "U8"
	case S16LE:
		return "S16LE"
	case S24LE:
		return "S24LE"
	case S32LE:
		return "S32LE"
	default:
		return "UNKNOWN"
	}
}

// Bits returns the sample width in bits.
func (f SampleFormat) Bits() int {
	switch f {
	case U8:
		return 8
	case S16LE:
		return 16
	case S24LE:
		return 24
	case S32LE:
		return 32
	default:
		return 0
	}
}

// CHMax bounds the channel_layout array (spec §3).
const CHMax = 11

// ChannelUnused marks an absent semantic channel position.
const ChannelUnused = -1

// Format is the {sample_format, rate_hz, num_channels, channel_layout} tuple
// negotiated once per stream (spec §3).
type Format struct {
	SampleFormat  SampleFormat
	RateHz        uint32
	NumChannels   uint8
	ChannelLayout [CHMax]int8
}

// BytesPerFrame returns (format_bits/8) * num_channels.
func (f Format) BytesPerFrame() int {
	return (f.SampleFormat.Bits() / 8) * int(f.NumChannels)
}

// Validate checks the format is usable: a known sample format, a nonzero
// rate, and 1..CHMax channels. Little-endian-only is enforced by the
// SampleFormat enum itself (there is no big-endian variant to construct).
func (f Format) Validate() error {
	if f.SampleFormat.Bits() == 0 {
		return fmt.Errorf("format: unknown sample format %d", f.SampleFormat)
	}
	if f.RateHz == 0 {
		return fmt.Errorf("format: zero sample rate")
	}
	if f.NumChannels == 0 || int(f.NumChannels) > CHMax {
		return fmt.Errorf("format: invalid channel count %d", f.NumChannels)
	}
	return nil
}

// Equal reports whether two formats are identical.
func (f Format) Equal(o Format) bool {
	if f.SampleFormat != o.SampleFormat || f.RateHz != o.RateHz || f.NumChannels != o.NumChannels {
		return false
	}
	for i := range f.ChannelLayout {
		if f.ChannelLayout[i] != o.ChannelLayout[i] {
			return false
		}
	}
	return true
}
