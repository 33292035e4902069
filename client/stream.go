package client

import (
	"audiosrv/internal/format"
	"audiosrv/internal/sab"
	"audiosrv/internal/wire"
)

// AudioCallback is the application-supplied real-time handler for one
// stream (spec §4.3). Exactly one of ProcessPlayback/ProcessCapture is
// ever called for a given stream, matching its direction.
type AudioCallback interface {
	// ProcessPlayback asks the application to fill buf with up to
	// maxFrames frames; it returns the number of frames actually written,
	// or a negative value to signal EOF.
	ProcessPlayback(buf []byte, maxFrames int) int
	// ProcessCapture delivers frames captured frames of PCM already copied
	// into samples.
	ProcessCapture(samples []byte, frames int)
	// Error reports a fatal stream condition (e.g. -ENOTCONN on
	// disconnect, or a transport error); the stream is no longer usable
	// once this is called.
	Error(err error)
}

// Stream is the public handle to one attached client stream (spec §3's
// rstream, client side).
type Stream struct {
	ID        uint32
	Direction wire.Direction
	Format    format.Format

	cbThreshold int
	callback    AudioCallback

	audioFd int // this process's end of the audio-notify socketpair

	buf *sab.Buffer // resolved via sab.Lookup once STREAM_CONNECTED arrives

	attachedCh chan struct{} // closed once buf/audioFd are usable (WARMUP -> RUNNING)
	stopCh     chan struct{} // closed to tell the audio task to exit
	doneCh     chan struct{} // closed once the audio task has exited

	attachErr error
	abortErr  error
}
