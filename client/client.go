package client

import (
	"fmt"

	"golang.org/x/sys/unix"

	"audiosrv/internal/format"
	"audiosrv/internal/wire"
)

// AddStream negotiates a new stream with the daemon (spec §4.4 step 1):
// it creates the audio-notify socketpair, sends CONNECT_STREAM with one
// end, and blocks for STREAM_CONNECTED before returning. cb is invoked
// from the stream's own audio task goroutine once the handshake
// completes.
func (c *Client) AddStream(dir wire.Direction, f format.Format, bufferFrames, cbThreshold int, clientType wire.ClientType, cb AudioCallback) (*Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	ours, theirs, err := audioSocketpair()
	if err != nil {
		return nil, err
	}

	payload := wire.ConnectStreamPayload{
		Direction:    uint32(dir),
		ClientType:   uint32(clientType),
		BufferFrames: uint32(bufferFrames),
		CBThreshold:  uint32(cbThreshold),
		Format:       f,
	}

	msg, err := c.call(wire.ConnectStream, payload.Encode(), []int{theirs}, wire.StreamConnected)
	if err != nil {
		unix.Close(ours)
		return nil, fmt.Errorf("client: connect stream: %w", err)
	}
	reply, err := wire.DecodeStreamConnectedPayload(msg.Payload)
	if err != nil {
		unix.Close(ours)
		return nil, err
	}
	if reply.Err != 0 {
		unix.Close(ours)
		return nil, fmt.Errorf("client: connect stream: server rejected (err=%d)", reply.Err)
	}

	s := &Stream{
		ID:          reply.StreamID,
		Direction:   dir,
		Format:      f,
		cbThreshold: cbThreshold,
		callback:    cb,
		audioFd:     ours,
		attachedCh:  make(chan struct{}),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	c.mu.Lock()
	c.streams[s.ID] = s
	hook := c.priorityHook
	c.mu.Unlock()

	c.attachStream(s, reply)
	go runAudioTask(s, hook)

	return s, nil
}

// RemoveStream detaches and tears down stream (spec §4.4's explicit-removal
// path, also used internally on disconnect).
func (c *Client) RemoveStream(s *Stream) error {
	c.mu.Lock()
	_, ok := c.streams[s.ID]
	delete(c.streams, s.ID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("client: stream %d not attached", s.ID)
	}

	s.abort(fmt.Errorf("client: stream removed"))
	unix.Close(s.audioFd)

	p := wire.U32Payload{Value: s.ID}
	return c.cast(wire.DisconnectStream, p.Encode(), nil)
}

// audioSocketpair creates the local audio-notify channel: one end stays in
// this process, the other is handed to the daemon over CONNECT_STREAM's
// ancillary fd (spec §4.2).
func audioSocketpair() (ours, theirs int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, -1, fmt.Errorf("client: socketpair: %w", err)
	}
	return fds[0], fds[1], nil
}

// SetSystemVolume, SetSystemMute, SetUserMute, SetCaptureMute issue the
// corresponding fire-and-forget control messages (spec §4.2); the
// server's subsequent OUTPUT_VOLUME_CHANGED/OUTPUT_MUTE_CHANGED/
// CAPTURE_MUTE_CHANGED notification is the source of truth for the new
// value, delivered via the OnXxxChanged callbacks.
func (c *Client) SetSystemVolume(v int) error {
	p := wire.U32Payload{Value: uint32(v)}
	return c.cast(wire.SetSystemVolume, p.Encode(), nil)
}

func (c *Client) SetSystemMute(mute bool) error {
	p := wire.BoolPayload{Value: mute}
	return c.cast(wire.SetSystemMute, p.Encode(), nil)
}

func (c *Client) SetUserMute(mute bool) error {
	p := wire.BoolPayload{Value: mute}
	return c.cast(wire.SetUserMute, p.Encode(), nil)
}

func (c *Client) SetCaptureMute(mute bool) error {
	p := wire.BoolPayload{Value: mute}
	return c.cast(wire.SetSystemCaptureMute, p.Encode(), nil)
}

// SelectNode and AddActiveNode forward to the routing policy's node
// selection operations (spec §4.6).
func (c *Client) SelectNode(dir wire.Direction, devIdx, nodeIdx uint32) error {
	p := wire.NodeSelectPayload{Direction: uint32(dir), DevIdx: devIdx, NodeIdx: nodeIdx}
	return c.cast(wire.SelectNode, p.Encode(), nil)
}

func (c *Client) AddActiveNode(dir wire.Direction, devIdx, nodeIdx uint32) error {
	p := wire.NodeSelectPayload{Direction: uint32(dir), DevIdx: devIdx, NodeIdx: nodeIdx}
	return c.cast(wire.AddActiveNode, p.Encode(), nil)
}

// Suspend and Resume forward to the routing policy's system-suspend hooks
// (spec §4.7).
func (c *Client) Suspend() error { return c.cast(wire.Suspend, nil, nil) }
func (c *Client) Resume() error  { return c.cast(wire.Resume, nil, nil) }

// RequestFloop asks the server to allocate or find a flexible-loopback
// pair matching clientTypesMask and blocks for the result (spec §4.9).
func (c *Client) RequestFloop(clientTypesMask wire.ClientType) (inputDevIdx uint32, err error) {
	p := wire.RequestFloopPayload{ClientTypesMask: uint32(clientTypesMask)}
	msg, err := c.call(wire.RequestFloop, p.Encode(), nil, wire.RequestFloopReady)
	if err != nil {
		return 0, err
	}
	reply, err := wire.DecodeRequestFloopReadyPayload(msg.Payload)
	if err != nil {
		return 0, err
	}
	if reply.Err != 0 {
		return 0, fmt.Errorf("client: request floop: server error %d", reply.Err)
	}
	return reply.InputDevIdx, nil
}
