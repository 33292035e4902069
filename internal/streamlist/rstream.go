// Package streamlist implements the server-side canonical registry of
// active streams: create/destroy/iter/has_pinned plus a changed-hook fired
// after every mutation (spec §3 "rstream", §4.5).
package streamlist

import (
	"time"

	"audiosrv/internal/format"
	"audiosrv/internal/sab"
	"audiosrv/internal/wire"
)

// StreamType distinguishes the use-case a stream was opened for (plain
// playback/capture vs. hotword detection vs. loopback), used by routing's
// pinned-hotword check (spec §4.7 step 1).
type StreamType int

const (
	StreamTypeDefault StreamType = iota
	StreamTypeHotword
	StreamTypeLoopback
)

// Flags mirrors the wire-level per-stream flag bitmask (bulk-audio vs.
// interactive, spec §4.2's CONNECT_STREAM payload).
type Flags uint32

const (
	FlagBulkAudio Flags = 1 << iota
)

// RStream is the server-side view of one client stream (spec §3).
type RStream struct {
	ID          uint32 // wire.StreamID
	Direction   wire.Direction
	Format      format.Format
	ClientType  wire.ClientType
	BufferFrames int
	CBThreshold int
	Flags       Flags
	Effects     wire.Effects

	ClientShmFd int
	AudioFds    [2]int // {server-read end, client-write end} or reverse by direction

	APMOpt int

	PinnedDevIdx uint32 // 0 means "not pinned"
	IsPinned     bool
	StreamType   StreamType

	StartTS time.Time

	Buffer *sab.Buffer
}

// IsHotword reports whether this stream was opened for hotword detection
// (spec §4.7 step 1's special pinned-device check).
func (r *RStream) IsHotword() bool { return r.StreamType == StreamTypeHotword }
