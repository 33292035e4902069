package client

import (
	"testing"

	"golang.org/x/sys/unix"

	"audiosrv/internal/sab"
	"audiosrv/internal/wire"
)

// fakeCallback records the last playback/capture/error invocation.
type fakeCallback struct {
	playbackFrames int // frames to report as produced; -1 signals EOF
	captured       []byte
	capturedFrames int
	err            error
}

func (f *fakeCallback) ProcessPlayback(buf []byte, maxFrames int) int {
	if f.playbackFrames < 0 {
		return f.playbackFrames
	}
	n := f.playbackFrames
	if n > maxFrames {
		n = maxFrames
	}
	return n
}

func (f *fakeCallback) ProcessCapture(samples []byte, frames int) {
	f.captured = append([]byte(nil), samples...)
	f.capturedFrames = frames
}

func (f *fakeCallback) Error(err error) { f.err = err }

const testFrameBytes = 4 // S16LE, 2 channels

func newTestStream(t *testing.T, cb AudioCallback, cbThreshold int) (*Stream, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })

	buf, err := sab.New(testFrameBytes, 480)
	if err != nil {
		t.Fatalf("sab.New: %v", err)
	}

	return &Stream{
		ID:          1,
		cbThreshold: cbThreshold,
		callback:    cb,
		audioFd:     fds[0],
		buf:         buf,
	}, fds[1]
}

func TestHandleRequestDataFillsBuffer(t *testing.T) {
	cb := &fakeCallback{playbackFrames: 300}
	s, peer := newTestStream(t, cb, 240)

	if ok := handleRequestData(s, wire.AudioMessage{ID: wire.RequestData, Frames: 300}); !ok {
		t.Fatalf("handleRequestData returned false, callback err=%v", cb.err)
	}

	reply, err := wire.ReadAudioMessage(peer)
	if err != nil {
		t.Fatalf("ReadAudioMessage: %v", err)
	}
	if reply.ID != wire.DataReady {
		t.Errorf("reply.ID = %v, want DataReady", reply.ID)
	}
	if reply.Err != 0 {
		t.Errorf("reply.Err = %d, want 0", reply.Err)
	}
	// cb_threshold (240) caps the request below the requested 300 frames.
	if reply.Frames != 240 {
		t.Errorf("reply.Frames = %d, want 240", reply.Frames)
	}
}

func TestHandleRequestDataEOF(t *testing.T) {
	cb := &fakeCallback{playbackFrames: -1}
	s, peer := newTestStream(t, cb, 240)

	ok := handleRequestData(s, wire.AudioMessage{ID: wire.RequestData, Frames: 100})
	if ok {
		t.Fatal("handleRequestData returned true on EOF, want false")
	}
	if cb.err == nil {
		t.Fatal("expected callback.Error to be invoked on EOF")
	}

	reply, err := wire.ReadAudioMessage(peer)
	if err != nil {
		t.Fatalf("ReadAudioMessage: %v", err)
	}
	if reply.Err == 0 {
		t.Errorf("reply.Err = 0, want nonzero on EOF")
	}
}

func TestHandleDataReadyDeliversCapture(t *testing.T) {
	cb := &fakeCallback{}
	s, peer := newTestStream(t, cb, 0)

	// Seed the read half with 100 frames' worth of data and flip, as the
	// producer side would before announcing DATA_READY.
	if _, err := s.buf.Write(make([]byte, 100*testFrameBytes)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.buf.FlipWrite()

	if ok := handleDataReady(s, wire.AudioMessage{ID: wire.DataReady, Frames: 100}); !ok {
		t.Fatalf("handleDataReady returned false, callback err=%v", cb.err)
	}
	if cb.capturedFrames != 100 {
		t.Errorf("capturedFrames = %d, want 100", cb.capturedFrames)
	}
	if len(cb.captured) != 100*testFrameBytes {
		t.Errorf("len(captured) = %d, want %d", len(cb.captured), 100*testFrameBytes)
	}

	reply, err := wire.ReadAudioMessage(peer)
	if err != nil {
		t.Fatalf("ReadAudioMessage: %v", err)
	}
	if reply.ID != wire.DataCaptured {
		t.Errorf("reply.ID = %v, want DataCaptured", reply.ID)
	}
	if reply.Frames != 100 {
		t.Errorf("reply.Frames = %d, want 100", reply.Frames)
	}
}

func TestHandleDataReadyOverrunClampsAndRecords(t *testing.T) {
	cb := &fakeCallback{}
	s, peer := newTestStream(t, cb, 0)

	if _, err := s.buf.Write(make([]byte, 100*testFrameBytes)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.buf.FlipWrite()

	avail := s.buf.ReadableFrames()
	requested := avail + 120

	if ok := handleDataReady(s, wire.AudioMessage{ID: wire.DataReady, Frames: uint32(requested)}); !ok {
		t.Fatalf("handleDataReady returned false, callback err=%v", cb.err)
	}
	if got := s.buf.Header.OverrunFrames(); got != 120 {
		t.Errorf("OverrunFrames() = %d, want 120", got)
	}
	if cb.capturedFrames != avail {
		t.Errorf("capturedFrames = %d, want clamp to %d", cb.capturedFrames, avail)
	}

	reply, err := wire.ReadAudioMessage(peer)
	if err != nil {
		t.Fatalf("ReadAudioMessage: %v", err)
	}
	if int(reply.Frames) != avail {
		t.Errorf("reply.Frames = %d, want %d", reply.Frames, avail)
	}
}

func TestStreamAbortIsIdempotent(t *testing.T) {
	cb := &fakeCallback{}
	s, _ := newTestStream(t, cb, 0)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	close(s.doneCh) // simulate the audio task having already exited

	s.abort(nil)
	s.abort(nil) // must not panic or double-close stopCh
}
