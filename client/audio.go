package client

import (
	"fmt"

	"golang.org/x/sys/unix"

	"audiosrv/internal/wire"
)

// runAudioTask is the per-stream audio task (spec §4.3): it blocks on
// {wake_fd, audio_fd} via poll. stopCh plays the role of wake_fd (the
// control task closes it to ask the task to exit); attachedCh plays the
// role of the WARMUP->RUNNING transition once STREAM_CONNECTED has been
// processed and s.buf is set.
func runAudioTask(s *Stream, priority PriorityHook) {
	defer close(s.doneCh)

	if priority != nil {
		priority(auidoTaskPriority)
	}

	select {
	case <-s.attachedCh:
	case <-s.stopCh:
		s.callback.Error(s.abortErr)
		return
	}
	if s.attachErr != nil {
		s.callback.Error(s.attachErr)
		return
	}

	pfd := []unix.PollFd{{Fd: int32(s.audioFd), Events: unix.POLLIN}}
	for {
		select {
		case <-s.stopCh:
			s.callback.Error(s.abortErr)
			return
		default:
		}

		n, err := unix.Poll(pfd, 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.callback.Error(fmt.Errorf("client: stream %d: poll: %w", s.ID, err))
			return
		}
		if n == 0 {
			continue
		}
		if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			s.callback.Error(fmt.Errorf("client: stream %d: audio fd closed", s.ID))
			return
		}
		if pfd[0].Revents&unix.POLLIN == 0 {
			continue
		}

		msg, err := wire.ReadAudioMessage(s.audioFd)
		if err != nil {
			s.callback.Error(fmt.Errorf("client: stream %d: %w", s.ID, err))
			return
		}
		if !dispatchAudioMessage(s, msg) {
			return
		}
	}
}

// auidoTaskPriority is the SCHED_RR priority requested for audio tasks
// (spec §4.3).
const auidoTaskPriority = 10

// dispatchAudioMessage handles one AUDIO_MESSAGE_* record and reports
// whether the task should keep running.
func dispatchAudioMessage(s *Stream, msg wire.AudioMessage) bool {
	switch msg.ID {
	case wire.RequestData:
		return handleRequestData(s, msg)
	case wire.DataReady:
		return handleDataReady(s, msg)
	default:
		s.callback.Error(fmt.Errorf("client: stream %d: unexpected audio message id %d", s.ID, msg.ID))
		return false
	}
}

// handleRequestData answers a playback REQUEST_DATA{n}: obtain write space
// clamped to n and cb_threshold, invoke the user callback, advance the
// write pointer, and reply DATA_READY{k,err} (spec §4.3).
func handleRequestData(s *Stream, msg wire.AudioMessage) bool {
	want := int(msg.Frames)
	if s.cbThreshold > 0 && want > s.cbThreshold {
		want = s.cbThreshold
	}
	space := s.buf.WriteSpace()
	maxBytes := want * s.buf.Header.FrameBytes()
	if maxBytes > space {
		maxBytes = space
	}
	if maxBytes < 0 {
		maxBytes = 0
	}

	scratch := make([]byte, maxBytes)
	frames := s.callback.ProcessPlayback(scratch, maxBytes/s.buf.Header.FrameBytes())
	var werr int32
	if frames < 0 {
		werr = -1
		frames = 0
	} else {
		n, _ := s.buf.Write(scratch[:frames*s.buf.Header.FrameBytes()])
		frames = n / s.buf.Header.FrameBytes()
	}
	k := uint32(s.buf.FlipWrite())
	_ = k // FlipWrite always reports the half's full committed frame count

	reply := wire.AudioMessage{ID: wire.DataReady, Err: int8(werr), Frames: uint32(frames)}
	if err := wire.WriteAudioMessage(s.audioFd, reply); err != nil {
		s.callback.Error(fmt.Errorf("client: stream %d: %w", s.ID, err))
		return false
	}
	if werr != 0 {
		s.callback.Error(fmt.Errorf("client: stream %d: EOF", s.ID))
		return false
	}
	return true
}

// handleDataReady answers a capture DATA_READY{n}: verify n against
// readable_frames, deliver samples, and acknowledge DATA_CAPTURED{k}
// (spec §4.3).
func handleDataReady(s *Stream, msg wire.AudioMessage) bool {
	n := int(msg.Frames)
	avail := s.buf.ReadableFrames()
	if n > avail {
		// The SAB indicates an overrun in excess of n: treat the buffer as
		// corrupted for this cycle rather than deliver a partial read that
		// crosses the overrun boundary (spec §4.3).
		s.buf.RecordOverrun(uint32(n - avail))
		n = avail
	}

	dst := make([]byte, n*s.buf.Header.FrameBytes())
	frames, err := s.buf.Read(dst, n)
	if err != nil {
		s.callback.Error(fmt.Errorf("client: stream %d: %w", s.ID, err))
		return false
	}
	s.buf.FlipRead()
	s.callback.ProcessCapture(dst[:frames*s.buf.Header.FrameBytes()], frames)

	reply := wire.AudioMessage{ID: wire.DataCaptured, Frames: uint32(frames)}
	if err := wire.WriteAudioMessage(s.audioFd, reply); err != nil {
		s.callback.Error(fmt.Errorf("client: stream %d: %w", s.ID, err))
		return false
	}
	return true
}

// abort tells the audio task to stop and, if it had not already reported
// an error, reports err now (spec §4.4's "fire err_cb(-ENOTCONN) on every
// attached stream").
func (s *Stream) abort(err error) {
	select {
	case <-s.stopCh:
		return
	default:
		s.abortErr = err
		close(s.stopCh)
	}
	<-s.doneCh
}
