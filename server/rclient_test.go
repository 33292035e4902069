package server

import (
	"testing"

	"golang.org/x/sys/unix"

	"audiosrv/internal/format"
	"audiosrv/internal/iodev"
	"audiosrv/internal/serverstate"
	"audiosrv/internal/shmutil"
	"audiosrv/internal/wire"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SocketDir = t.TempDir()
	return New(cfg, nil)
}

func newConnPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[0]); unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func newRClient(s *Server, fd int) *rclient {
	c := &rclient{id: nextClientID.Add(1), fd: fd, streamShm: make(map[uint32][2]*shmutil.Region)}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	return c
}

func TestDispatchSetSystemVolumeBroadcasts(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	p := wire.U32Payload{Value: 55}
	msg := &wire.Message{ID: uint32(wire.SetSystemVolume), Payload: p.Encode()}
	if err := s.dispatch(c, serverFd, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := s.state.SystemVolume(); got != 55 {
		t.Errorf("SystemVolume() = %d, want 55", got)
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.ServerMessageID(reply.ID) != wire.OutputVolumeChanged {
		t.Errorf("broadcast id = %v, want OUTPUT_VOLUME_CHANGED", wire.ServerMessageID(reply.ID))
	}
	got, err := wire.DecodeU32Payload(reply.Payload)
	if err != nil {
		t.Fatalf("DecodeU32Payload: %v", err)
	}
	if got.Value != 55 {
		t.Errorf("broadcast value = %d, want 55", got.Value)
	}
}

func TestDispatchSetUserMuteUsesEffectiveMute(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	s.state.SetSystemMute(false)
	p := wire.BoolPayload{Value: true}
	msg := &wire.Message{ID: uint32(wire.SetUserMute), Payload: p.Encode()}
	if err := s.dispatch(c, serverFd, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !s.state.UserMute() {
		t.Error("UserMute() = false, want true")
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	got, err := wire.DecodeBoolPayload(reply.Payload)
	if err != nil {
		t.Fatalf("DecodeBoolPayload: %v", err)
	}
	if !got.Value {
		t.Error("broadcast OUTPUT_MUTE_CHANGED value = false, want true (effective mute)")
	}
}

func TestHandleConnectStreamThenDisconnect(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	audioServerFd, _ := newConnPair(t)

	f := format.Format{SampleFormat: format.S16LE, RateHz: 48000, NumChannels: 2}
	connect := wire.ConnectStreamPayload{
		Direction:    uint32(wire.Output),
		BufferFrames: 480,
		CBThreshold:  240,
		Format:       f,
	}
	msg := &wire.Message{
		ID:      uint32(wire.ConnectStream),
		Payload: connect.Encode(),
		FDs:     []int{audioServerFd},
	}

	if err := s.handleConnectStream(c, serverFd, msg); err != nil {
		t.Fatalf("handleConnectStream: %v", err)
	}

	// StreamAdded publishes the new stream count to every connected client,
	// so NUM_ACTIVE_STREAMS_CHANGED arrives ahead of the STREAM_CONNECTED reply.
	notice, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.ServerMessageID(notice.ID) != wire.NumActiveStreamsChanged {
		t.Fatalf("first message id = %v, want NUM_ACTIVE_STREAMS_CHANGED", wire.ServerMessageID(notice.ID))
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.ServerMessageID(reply.ID) != wire.StreamConnected {
		t.Fatalf("reply id = %v, want STREAM_CONNECTED", wire.ServerMessageID(reply.ID))
	}
	sc, err := wire.DecodeStreamConnectedPayload(reply.Payload)
	if err != nil {
		t.Fatalf("DecodeStreamConnectedPayload: %v", err)
	}
	if sc.Err != 0 {
		t.Fatalf("StreamConnectedPayload.Err = %d, want 0", sc.Err)
	}
	if len(reply.FDs) != 2 {
		t.Fatalf("got %d fds, want 2 (header, samples shm)", len(reply.FDs))
	}
	for _, fd := range reply.FDs {
		unix.Close(fd)
	}

	if rs := s.streams.Get(sc.StreamID); rs == nil {
		t.Fatal("stream not registered in streamlist after CONNECT_STREAM")
	}

	if err := s.handleDisconnectStream(c, sc.StreamID); err != nil {
		t.Fatalf("handleDisconnectStream: %v", err)
	}
	if rs := s.streams.Get(sc.StreamID); rs != nil {
		t.Error("stream still registered after DISCONNECT_STREAM")
	}
	c.mu.Lock()
	_, stillTracked := c.streamShm[sc.StreamID]
	c.mu.Unlock()
	if stillTracked {
		t.Error("rclient still tracks shm regions for a disconnected stream")
	}
}

func TestHandleConnectStreamRejectsBadFormat(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	audioServerFd, _ := newConnPair(t)

	bad := wire.ConnectStreamPayload{
		Direction:    uint32(wire.Output),
		BufferFrames: 480,
		CBThreshold:  240,
		Format:       format.Format{SampleFormat: format.SampleFormat(99), RateHz: 48000, NumChannels: 2},
	}
	msg := &wire.Message{
		ID:      uint32(wire.ConnectStream),
		Payload: bad.Encode(),
		FDs:     []int{audioServerFd},
	}

	if err := s.handleConnectStream(c, serverFd, msg); err == nil {
		t.Fatal("handleConnectStream with an invalid sample format returned nil error, want non-nil")
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	sc, err := wire.DecodeStreamConnectedPayload(reply.Payload)
	if err != nil {
		t.Fatalf("DecodeStreamConnectedPayload: %v", err)
	}
	if sc.Err == 0 {
		t.Error("StreamConnectedPayload.Err = 0, want nonzero on validation failure")
	}
}

func TestDispatchSetNodeAttrVolume(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	dev := s.AddDevice(wire.Output, "test-out", iodev.NewToneBackend(440), false)
	dev.Nodes = []*iodev.Node{{DevIdx: dev.Idx, Idx: 1, Type: iodev.NodeSpeaker}}
	s.state.SetSystemVolume(80)

	p := wire.NodeAttrPayload{DevIdx: dev.Idx, NodeIdx: 1, Attr: uint32(wire.NodeAttrVolume), Value: 50}
	msg := &wire.Message{ID: uint32(wire.SetNodeAttr), Payload: p.Encode()}
	if err := s.dispatch(c, serverFd, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := dev.Node(1).Volume; got != 50 {
		t.Errorf("node volume = %d, want 50", got)
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.ServerMessageID(reply.ID) != wire.OutputNodeVolumeChanged {
		t.Fatalf("broadcast id = %v, want OUTPUT_NODE_VOLUME_CHANGED", wire.ServerMessageID(reply.ID))
	}
	got, err := wire.DecodeNodeValuePayload(reply.Payload)
	if err != nil {
		t.Fatalf("DecodeNodeValuePayload: %v", err)
	}
	wantVol := iodev.OutputVolume(80, 50)
	if got.Value != int32(wantVol) {
		t.Errorf("broadcast volume = %d, want %d", got.Value, wantVol)
	}
	if got.NodeID != uint32(wire.NewNodeID(dev.Idx, 1)) {
		t.Errorf("broadcast node id = %d, want %d", got.NodeID, wire.NewNodeID(dev.Idx, 1))
	}
}

func TestDispatchSetNodeAttrCaptureGain(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	dev := s.AddDevice(wire.Input, "test-mic", iodev.NewFallbackBackend(), false)
	dev.Nodes = []*iodev.Node{{DevIdx: dev.Idx, Idx: 1, Type: iodev.NodeMic}}

	p := wire.NodeAttrPayload{DevIdx: dev.Idx, NodeIdx: 1, Attr: uint32(wire.NodeAttrCaptureGain), Value: 75}
	msg := &wire.Message{ID: uint32(wire.SetNodeAttr), Payload: p.Encode()}
	if err := s.dispatch(c, serverFd, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	n := dev.Node(1)
	if n.Volume != 75 {
		t.Errorf("node gain = %d, want 75", n.Volume)
	}
	wantScaler := serverstate.GainToScaler(75, iodev.DefaultMaxGainCentiDB)
	if n.UIGainScaler != wantScaler {
		t.Errorf("UIGainScaler = %v, want %v", n.UIGainScaler, wantScaler)
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.ServerMessageID(reply.ID) != wire.InputNodeGainChanged {
		t.Fatalf("broadcast id = %v, want INPUT_NODE_GAIN_CHANGED", wire.ServerMessageID(reply.ID))
	}
}

func TestDispatchSetNodeAttrUnknownNodeErrors(t *testing.T) {
	s := testServer(t)
	serverFd, _ := newConnPair(t)
	c := newRClient(s, serverFd)

	dev := s.AddDevice(wire.Output, "test-out", iodev.NewToneBackend(440), false)

	p := wire.NodeAttrPayload{DevIdx: dev.Idx, NodeIdx: 99, Attr: uint32(wire.NodeAttrVolume), Value: 50}
	msg := &wire.Message{ID: uint32(wire.SetNodeAttr), Payload: p.Encode()}
	if err := s.dispatch(c, serverFd, msg); err == nil {
		t.Fatal("dispatch with unknown node index returned nil error, want non-nil")
	}
}

func TestDispatchGetHotwordModelsListsRegistry(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	dev := s.AddDevice(wire.Input, "test-hotword", iodev.NewFallbackBackend(), false)
	dev.Nodes = []*iodev.Node{{DevIdx: dev.Idx, Idx: 1, Type: iodev.NodeHotword}}

	p := wire.GetHotwordModelsPayload{NodeID: uint32(wire.NewNodeID(dev.Idx, 1))}
	msg := &wire.Message{ID: uint32(wire.GetHotwordModels), Payload: p.Encode()}
	if err := s.dispatch(c, serverFd, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.ServerMessageID(reply.ID) != wire.GetHotwordModelsReady {
		t.Fatalf("reply id = %v, want GET_HOTWORD_MODELS_READY", wire.ServerMessageID(reply.ID))
	}
	got, err := wire.DecodeGetHotwordModelsReadyPayload(reply.Payload)
	if err != nil {
		t.Fatalf("DecodeGetHotwordModelsReadyPayload: %v", err)
	}
	if got.Err != 0 || got.Models != iodev.HotwordModelNames() {
		t.Errorf("reply = %+v, want Err=0 Models=%q", got, iodev.HotwordModelNames())
	}
}

func TestDispatchGetHotwordModelsNonHotwordNodeErrs(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	dev := s.AddDevice(wire.Input, "test-mic", iodev.NewFallbackBackend(), false)
	dev.Nodes = []*iodev.Node{{DevIdx: dev.Idx, Idx: 1, Type: iodev.NodeMic}}

	p := wire.GetHotwordModelsPayload{NodeID: uint32(wire.NewNodeID(dev.Idx, 1))}
	msg := &wire.Message{ID: uint32(wire.GetHotwordModels), Payload: p.Encode()}
	if err := s.dispatch(c, serverFd, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	got, err := wire.DecodeGetHotwordModelsReadyPayload(reply.Payload)
	if err != nil {
		t.Fatalf("DecodeGetHotwordModelsReadyPayload: %v", err)
	}
	if got.Err == 0 {
		t.Error("reply Err = 0 for a non-hotword node, want non-zero")
	}
}

func TestDispatchSetHotwordModelValidatesAgainstRegistry(t *testing.T) {
	s := testServer(t)
	serverFd, _ := newConnPair(t)
	c := newRClient(s, serverFd)

	dev := s.AddDevice(wire.Input, "test-hotword", iodev.NewFallbackBackend(), false)
	dev.Nodes = []*iodev.Node{{DevIdx: dev.Idx, Idx: 1, Type: iodev.NodeHotword}}

	bad := wire.SetHotwordModelPayload{NodeID: uint32(wire.NewNodeID(dev.Idx, 1)), ModelName: "nonexistent_model"}
	msg := &wire.Message{ID: uint32(wire.SetHotwordModel), Payload: bad.Encode()}
	if err := s.dispatch(c, serverFd, msg); err == nil {
		t.Fatal("dispatch with unknown model name returned nil error, want non-nil")
	}

	good := wire.SetHotwordModelPayload{NodeID: uint32(wire.NewNodeID(dev.Idx, 1)), ModelName: "en_us"}
	msg = &wire.Message{ID: uint32(wire.SetHotwordModel), Payload: good.Encode()}
	if err := s.dispatch(c, serverFd, msg); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := dev.Node(1).ActiveHotwordModel; got != "en_us" {
		t.Errorf("ActiveHotwordModel = %q, want en_us", got)
	}
}

func TestCheckPeerCredAcceptsSelf(t *testing.T) {
	a, _ := newConnPair(t)
	if err := checkPeerCred(a); err != nil {
		t.Errorf("checkPeerCred on a same-process socketpair: %v", err)
	}
}

func TestCloseAllStreamsClearsEverything(t *testing.T) {
	s := testServer(t)
	serverFd, peerFd := newConnPair(t)
	c := newRClient(s, serverFd)

	audioServerFd, _ := newConnPair(t)

	f := format.Format{SampleFormat: format.S16LE, RateHz: 48000, NumChannels: 2}
	connect := wire.ConnectStreamPayload{
		Direction:    uint32(wire.Input),
		BufferFrames: 480,
		CBThreshold:  240,
		Format:       f,
	}
	msg := &wire.Message{ID: uint32(wire.ConnectStream), Payload: connect.Encode(), FDs: []int{audioServerFd}}
	if err := s.handleConnectStream(c, serverFd, msg); err != nil {
		t.Fatalf("handleConnectStream: %v", err)
	}
	reply, err := wire.ReadMessage(peerFd)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	for _, fd := range reply.FDs {
		unix.Close(fd)
	}

	c.closeAllStreams(s)

	c.mu.Lock()
	n := len(c.streamShm)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("closeAllStreams left %d tracked streams, want 0", n)
	}
	if s.streams.Count() != 0 {
		t.Errorf("streams.Count() = %d, want 0 after closeAllStreams", s.streams.Count())
	}
}
