// Package sab implements the shared audio buffer: a two-buffer ping-pong
// ring plus a fixed header, the mechanism by which PCM frames move between
// a client and the server without copying through the control socket
// (spec §3, §4.1).
package sab

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// headerVersion must match between the two ends of a SAB; a mismatch is
// fatal at attach time (spec §4.1).
const headerVersion uint32 = 1

// Header is the fixed-layout record living at the start of the header
// shared-memory region (spec §3). In the real CORE this is mmap'd; here it
// is held as an in-process struct whose hot fields are atomics so the
// producer/consumer discipline mirrors the lock-free contract the spec
// mandates (spec §4.1: "only one side advances each index").
type Header struct {
	version uint32

	readBufIdx  atomic.Int32 // 0 or 1: which half the reader drains
	writeBufIdx atomic.Int32 // 0 or 1: which half the writer fills

	readOffset  [2]atomic.Uint32 // bytes consumed so far in each half
	writeOffset [2]atomic.Uint32 // bytes produced so far in each half

	frameBytes   int
	bufferFrames int
	usedSize     int // byte capacity of one half

	volumeScaler atomic.Uint32 // float32 bits, 0.0-1.0
	mute         atomic.Bool

	overrunFrames atomic.Uint64 // frames dropped because the producer lapped the consumer

	mu                sync.Mutex // guards the two timespec-valued fields below
	droppedSamplesDur time.Duration
	underrunDur       time.Duration
	ts                time.Time

	callbackPending atomic.Bool
}

// Buffer is a SAB: a Header plus 2*used_size bytes of interleaved PCM.
type Buffer struct {
	Header  *Header
	Samples []byte // 2 * usedSize bytes
}

// New allocates a SAB sized for bufferFrames frames of frameBytes each.
// used_size is the per-half byte capacity; the spec leaves the exact
// relationship between buffer_frames and used_size to the implementation,
// so this constructor uses used_size = buffer_frames * frame_bytes, giving
// a full ping-pong buffer's worth of headroom per half.
func New(frameBytes, bufferFrames int) (*Buffer, error) {
	if frameBytes <= 0 || bufferFrames <= 0 {
		return nil, fmt.Errorf("sab: invalid geometry frameBytes=%d bufferFrames=%d", frameBytes, bufferFrames)
	}
	usedSize := frameBytes * bufferFrames
	h := &Header{
		version:      headerVersion,
		frameBytes:   frameBytes,
		bufferFrames: bufferFrames,
		usedSize:     usedSize,
	}
	h.volumeScaler.Store(math.Float32bits(1.0))
	return &Buffer{
		Header:  h,
		Samples: make([]byte, 2*usedSize),
	}, nil
}

// Version reports the header's SAB version, for mismatch checks at attach.
func (h *Header) Version() uint32 { return h.version }

// CheckVersion returns an error if v does not match this header's version
// (spec §4.1: "mismatch is fatal at attach").
func (h *Header) CheckVersion(v uint32) error {
	if v != h.version {
		return fmt.Errorf("sab: header version mismatch: have %d, want %d", v, h.version)
	}
	return nil
}

// FrameBytes, BufferFrames, UsedSize expose the fixed geometry.
func (h *Header) FrameBytes() int   { return h.frameBytes }
func (h *Header) BufferFrames() int { return h.bufferFrames }
func (h *Header) UsedSize() int     { return h.usedSize }

// VolumeScaler returns the current volume scaler in [0.0, 1.0]. Written by
// the client control task; read without locking by the audio task and the
// server (spec §4.1).
func (h *Header) VolumeScaler() float32 { return math.Float32frombits(h.volumeScaler.Load()) }

// SetVolumeScaler clamps and stores vol. Atomic by virtue of size, per
// spec §4.1.
func (h *Header) SetVolumeScaler(vol float32) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	h.volumeScaler.Store(math.Float32bits(vol))
}

// Mute / SetMute expose the header's mute flag.
func (h *Header) Mute() bool        { return h.mute.Load() }
func (h *Header) SetMute(mute bool) { h.mute.Store(mute) }

// OverrunFrames returns the cumulative overrun frame counter.
func (h *Header) OverrunFrames() uint64 { return h.overrunFrames.Load() }

// CallbackPending reports whether a callback invocation is outstanding.
func (h *Header) CallbackPending() bool           { return h.callbackPending.Load() }
func (h *Header) SetCallbackPending(pending bool) { h.callbackPending.Store(pending) }

// SetTimestamps records the dropped-at-HW-boundary duration, the
// synthesized-underrun duration, and the next I/O timestamp (spec §3's
// dropped_samples_duration / underrun_duration / ts).
func (h *Header) SetTimestamps(dropped, underrun time.Duration, ts time.Time) {
	h.mu.Lock()
	h.droppedSamplesDur = dropped
	h.underrunDur = underrun
	h.ts = ts
	h.mu.Unlock()
}

// Timestamps returns the values last set by SetTimestamps.
func (h *Header) Timestamps() (dropped, underrun time.Duration, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.droppedSamplesDur, h.underrunDur, h.ts
}

// WriteBufIdx / ReadBufIdx return the current ping-pong half index (0 or 1)
// for the writer and reader respectively.
func (h *Header) WriteBufIdx() int { return int(h.writeBufIdx.Load()) }
func (h *Header) ReadBufIdx() int  { return int(h.readBufIdx.Load()) }

// WriteOffset / ReadOffset return the byte offset reached so far in the
// given half (0 or 1).
func (h *Header) WriteOffset(half int) uint32 { return h.writeOffset[half].Load() }
func (h *Header) ReadOffset(half int) uint32  { return h.readOffset[half].Load() }
