package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"audiosrv/internal/iodev"
	"audiosrv/internal/sab"
	"audiosrv/internal/serverstate"
	"audiosrv/internal/shmutil"
	"audiosrv/internal/streamlist"
	"audiosrv/internal/wire"
)

// rclient is the server's per-connection state: one real peer process's
// control-socket fd plus every stream it has open (spec §3's "owned by the
// stream list; referenced by" note extended to the connection that
// created them).
type rclient struct {
	id uint32
	fd int

	writeMu sync.Mutex // serializes writes, mirroring rustyguts-bken/server/client.go's sendRaw mutex

	mu            sync.Mutex
	streamShm     map[uint32][2]*shmutil.Region // streamID -> {header, samples} regions, closed on disconnect
	nextStreamIdx uint32
}

var nextClientID atomic.Uint32

// handleConn runs one client connection end to end: peer-credential check,
// CLIENT_CONNECTED handshake, then a message dispatch loop until the
// connection errors or ctx is cancelled.
func (s *Server) handleConn(ctx context.Context, connFd int) {
	defer unix.Close(connFd)

	if err := checkPeerCred(connFd); err != nil {
		log.Printf("[server] rejecting connection: %v", err)
		return
	}

	id := nextClientID.Add(1)
	c := &rclient{id: id, fd: connFd, streamShm: make(map[uint32][2]*shmutil.Region)}

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		c.closeAllStreams(s)
	}()

	hello := wire.ClientConnectedPayload{ClientID: id, StateShmSize: 0}
	if err := wire.WriteMessage(connFd, uint32(wire.ClientConnected), hello.Encode(), nil); err != nil {
		log.Printf("[server] client %d: CLIENT_CONNECTED: %v", id, err)
		return
	}

	for ctx.Err() == nil {
		msg, err := wire.ReadMessage(connFd)
		if err != nil {
			log.Printf("[server] client %d: disconnected: %v", id, err)
			return
		}
		if err := s.dispatch(c, connFd, msg); err != nil {
			log.Printf("[server] client %d: %s: %v", id, wire.ClientMessageID(msg.ID), err)
		}
	}
}

func (s *Server) dispatch(c *rclient, fd int, msg *wire.Message) error {
	switch wire.ClientMessageID(msg.ID) {
	case wire.ConnectStream:
		return s.handleConnectStream(c, fd, msg)
	case wire.DisconnectStream:
		p, err := wire.DecodeU32Payload(msg.Payload)
		if err != nil {
			return err
		}
		return s.handleDisconnectStream(c, p.Value)
	case wire.SetSystemVolume:
		p, err := wire.DecodeU32Payload(msg.Payload)
		if err != nil {
			return err
		}
		s.state.SetSystemVolume(int(p.Value))
		s.broadcastU32(wire.OutputVolumeChanged, p.Value)
		return nil
	case wire.SetSystemMute:
		p, err := wire.DecodeBoolPayload(msg.Payload)
		if err != nil {
			return err
		}
		s.state.SetSystemMute(p.Value)
		s.broadcastBool(wire.OutputMuteChanged, p.Value)
		return nil
	case wire.SetUserMute:
		p, err := wire.DecodeBoolPayload(msg.Payload)
		if err != nil {
			return err
		}
		s.state.SetUserMute(p.Value)
		s.broadcastBool(wire.OutputMuteChanged, s.state.EffectiveOutputMute())
		return nil
	case wire.SetSystemCaptureMute:
		p, err := wire.DecodeBoolPayload(msg.Payload)
		if err != nil {
			return err
		}
		s.state.SetCaptureMute(p.Value)
		s.broadcastBool(wire.CaptureMuteChanged, p.Value)
		return nil
	case wire.SelectNode:
		p, err := wire.DecodeNodeSelectPayload(msg.Payload)
		if err != nil {
			return err
		}
		return s.policy.SelectNode(wire.Direction(p.Direction), p.DevIdx, p.NodeIdx)
	case wire.AddActiveNode:
		p, err := wire.DecodeNodeSelectPayload(msg.Payload)
		if err != nil {
			return err
		}
		return s.policy.AddActiveNode(wire.Direction(p.Direction), p.DevIdx, p.NodeIdx)
	case wire.SetNodeAttr:
		p, err := wire.DecodeNodeAttrPayload(msg.Payload)
		if err != nil {
			return err
		}
		return s.handleSetNodeAttr(p)
	case wire.GetHotwordModels:
		p, err := wire.DecodeGetHotwordModelsPayload(msg.Payload)
		if err != nil {
			return err
		}
		return s.handleGetHotwordModels(fd, p)
	case wire.SetHotwordModel:
		p, err := wire.DecodeSetHotwordModelPayload(msg.Payload)
		if err != nil {
			return err
		}
		return s.handleSetHotwordModel(p)
	case wire.Suspend:
		return s.policy.Suspend()
	case wire.Resume:
		return s.policy.Resume()
	case wire.RequestFloop:
		p, err := wire.DecodeRequestFloopPayload(msg.Payload)
		if err != nil {
			return err
		}
		devIdx, ferr := s.floop.RequestFloop(wire.ClientType(p.ClientTypesMask))
		reply := wire.RequestFloopReadyPayload{InputDevIdx: devIdx}
		if ferr != nil {
			reply.Err = -1
		}
		return wire.WriteMessage(fd, uint32(wire.RequestFloopReady), reply.Encode(), nil)
	case wire.AddTestDev:
		dev := s.AddDevice(wire.Output, fmt.Sprintf("test-dev-%d", c.id), iodev.NewToneBackend(440), false)
		s.publishNodes()
		log.Printf("[server] client %d: added test device %d", c.id, dev.Idx)
		return nil
	default:
		// Diagnostics/administrative messages (DUMP_*, SET_AEC_*, RELOAD_*,
		// SET_BT_WBS_ENABLED) have no state this CORE tracks beyond what the
		// handlers above already expose; ack by doing nothing rather than
		// erroring the connection.
		return nil
	}
}

// handleGetHotwordModels implements GET_HOTWORD_MODELS (spec SPEC_FULL.md
// §4.6 supplement): reply with the static registry's comma-joined model
// names, or Err set if the node isn't a HOTWORD node.
func (s *Server) handleGetHotwordModels(fd int, p wire.GetHotwordModelsPayload) error {
	id := wire.NodeID(p.NodeID)
	reply := wire.GetHotwordModelsReadyPayload{}

	dev := s.Device(id.DevIdx())
	var n *iodev.Node
	if dev != nil {
		n = dev.Node(id.NodeIdx())
	}
	if n == nil || n.Type != iodev.NodeHotword {
		reply.Err = -1
	} else {
		reply.Models = iodev.HotwordModelNames()
	}
	return wire.WriteMessage(fd, uint32(wire.GetHotwordModelsReady), reply.Encode(), nil)
}

// handleSetHotwordModel implements SET_HOTWORD_MODEL: validate the requested
// model against the registry and switch the node's active model on success.
func (s *Server) handleSetHotwordModel(p wire.SetHotwordModelPayload) error {
	id := wire.NodeID(p.NodeID)
	dev := s.Device(id.DevIdx())
	if dev == nil {
		return fmt.Errorf("server: no such device %d", id.DevIdx())
	}
	n := dev.Node(id.NodeIdx())
	if n == nil {
		return fmt.Errorf("server: device %d has no node %d", id.DevIdx(), id.NodeIdx())
	}
	if n.Type != iodev.NodeHotword {
		return fmt.Errorf("server: node %d is not a hotword node", id.NodeIdx())
	}
	if !iodev.IsKnownHotwordModel(p.ModelName) {
		return fmt.Errorf("server: unknown hotword model %q", p.ModelName)
	}
	n.ActiveHotwordModel = p.ModelName
	return nil
}

// handleSetNodeAttr implements SET_NODE_ATTR (spec §4.6): mutate the named
// node attribute and broadcast the matching *_CHANGED notification on
// success.
func (s *Server) handleSetNodeAttr(p wire.NodeAttrPayload) error {
	dev := s.Device(p.DevIdx)
	if dev == nil {
		return fmt.Errorf("server: no such device %d", p.DevIdx)
	}
	n := dev.Node(p.NodeIdx)
	if n == nil {
		return fmt.Errorf("server: device %d has no node %d", p.DevIdx, p.NodeIdx)
	}
	nodeID := uint32(wire.NewNodeID(p.DevIdx, p.NodeIdx))

	switch wire.NodeAttr(p.Attr) {
	case wire.NodeAttrPlugged:
		n.Plugged = p.Value != 0
	case wire.NodeAttrVolume:
		n.Volume = int(p.Value)
		vol := iodev.OutputVolume(s.state.SystemVolume(), n.Volume)
		s.broadcastNodeValue(wire.OutputNodeVolumeChanged, nodeID, int32(vol))
	case wire.NodeAttrCaptureGain:
		n.Volume = int(p.Value)
		n.UIGainScaler = serverstate.GainToScaler(n.Volume, iodev.DefaultMaxGainCentiDB)
		s.broadcastNodeValue(wire.InputNodeGainChanged, nodeID, p.Value)
	case wire.NodeAttrDisplayRotation:
		n.DisplayRotation = int(p.Value)
	case wire.NodeAttrSwapLeftRight:
		n.LeftRightSwapped = p.Value != 0
		swapped := int32(0)
		if n.LeftRightSwapped {
			swapped = 1
		}
		s.broadcastNodeValue(wire.NodeLeftRightSwappedChanged, nodeID, swapped)
	default:
		return fmt.Errorf("server: unknown node attr %d", p.Attr)
	}
	s.publishNodes()
	return nil
}

func (s *Server) handleConnectStream(c *rclient, fd int, msg *wire.Message) error {
	if err := wire.RequireFDs(msg, 1); err != nil {
		return s.replyStreamConnectedError(fd, 0, err)
	}
	audioFd := msg.FDs[0]

	p, err := wire.DecodeConnectStreamPayload(msg.Payload)
	if err != nil {
		unix.Close(audioFd)
		return s.replyStreamConnectedError(fd, 0, err)
	}
	if err := p.Format.Validate(); err != nil {
		unix.Close(audioFd)
		return s.replyStreamConnectedError(fd, 0, err)
	}

	c.mu.Lock()
	streamIdx := c.nextStreamIdx
	c.nextStreamIdx++
	c.mu.Unlock()
	streamID := uint32(wire.NewStreamID(uint16(c.id), uint16(streamIdx)))

	buf, err := sab.New(p.Format.BytesPerFrame(), int(p.BufferFrames))
	if err != nil {
		unix.Close(audioFd)
		return s.replyStreamConnectedError(fd, streamID, err)
	}
	sab.Register(streamID, buf)

	headerRegion, err := shmutil.Create(fmt.Sprintf("sab-header-%d", streamID), 4096)
	if err != nil {
		unix.Close(audioFd)
		sab.Unregister(streamID)
		return s.replyStreamConnectedError(fd, streamID, err)
	}
	samplesRegion, err := shmutil.Create(fmt.Sprintf("sab-samples-%d", streamID), len(buf.Samples))
	if err != nil {
		headerRegion.Close()
		unix.Close(audioFd)
		sab.Unregister(streamID)
		return s.replyStreamConnectedError(fd, streamID, err)
	}

	rs := &streamlist.RStream{
		Direction:    wire.Direction(p.Direction),
		Format:       p.Format,
		ClientType:   wire.ClientType(p.ClientType),
		BufferFrames: int(p.BufferFrames),
		CBThreshold:  int(p.CBThreshold),
		Flags:        streamlist.Flags(p.Flags),
		Effects:      wire.Effects(p.Effects),
		AudioFds:     [2]int{audioFd, -1},
		PinnedDevIdx: p.PinnedDevIdx,
		IsPinned:     p.IsPinned != 0,
		StreamType:   streamlist.StreamType(p.StreamType),
		Buffer:       buf,
	}

	if _, err := s.streams.Create(streamID, rs); err != nil {
		headerRegion.Close()
		samplesRegion.Close()
		unix.Close(audioFd)
		sab.Unregister(streamID)
		return s.replyStreamConnectedError(fd, streamID, err)
	}

	if err := s.policy.StreamAdded(rs); err != nil {
		// Non-fatal per spec §4.7 (e.g. no device available yet, or a
		// retry was scheduled): the stream stays registered and rides the
		// fallback or a later retry, matching the teacher's "log and
		// continue" style for soft failures.
		log.Printf("[server] stream %d: stream_added: %v", streamID, err)
	}

	c.mu.Lock()
	c.streamShm[streamID] = [2]*shmutil.Region{headerRegion, samplesRegion}
	c.mu.Unlock()

	reply := wire.StreamConnectedPayload{
		StreamID:       streamID,
		SamplesShmSize: uint32(len(buf.Samples)),
		BufferFrames:   p.BufferFrames,
		CBThreshold:    p.CBThreshold,
	}
	return wire.WriteMessage(fd, uint32(wire.StreamConnected), reply.Encode(),
		[]int{headerRegion.Fd, samplesRegion.Fd})
}

func (s *Server) replyStreamConnectedError(fd int, streamID uint32, cause error) error {
	reply := wire.StreamConnectedPayload{StreamID: streamID, Err: -1}
	if werr := wire.WriteMessage(fd, uint32(wire.StreamConnected), reply.Encode(), nil); werr != nil {
		return werr
	}
	return cause
}

func (s *Server) handleDisconnectStream(c *rclient, streamID uint32) error {
	rs, err := s.streams.Destroy(streamID)
	if err != nil {
		return err
	}
	if err := s.policy.StreamRemoved(rs); err != nil {
		log.Printf("[server] stream %d: stream_removed: %v", streamID, err)
	}
	sab.Unregister(streamID)

	c.mu.Lock()
	regions, ok := c.streamShm[streamID]
	delete(c.streamShm, streamID)
	c.mu.Unlock()
	if ok {
		regions[0].Close()
		regions[1].Close()
	}
	if rs.AudioFds[0] >= 0 {
		unix.Close(rs.AudioFds[0])
	}
	return nil
}

func (c *rclient) closeAllStreams(s *Server) {
	c.mu.Lock()
	ids := make([]uint32, 0, len(c.streamShm))
	for id := range c.streamShm {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		if err := s.handleDisconnectStream(c, id); err != nil {
			log.Printf("[server] cleanup stream %d: %v", id, err)
		}
	}
}

// --- routing.Notifier ---

// NodesChanged broadcasts NODES_CHANGED to every connected client (spec
// §4.2). The payload carries no data: clients re-read the server-state
// region, per spec §5's "a client that reads state after receiving such a
// notification sees the new values".
func (s *Server) NodesChanged() {
	s.publishNodes()
}

func (s *Server) publishNodes() {
	s.mu.Lock()
	var snaps []serverstateNode
	for _, dev := range s.devices {
		for _, n := range dev.Nodes {
			snaps = append(snaps, serverstateNode{dev: dev.Idx, node: n, active: n.Idx == dev.ActiveNodeIdx})
		}
	}
	s.mu.Unlock()
	s.state.SetNodes(toNodeSnapshots(snaps))
	s.broadcastEmpty(wire.NodesChanged)
}

func (s *Server) ActiveNodeChanged(dir wire.Direction, devIdx uint32) {
	s.publishNodes()
	s.broadcastU32(wire.ActiveNodeChanged, devIdx)
}

func (s *Server) NumActiveStreamsChanged(n int) {
	s.broadcastU32(wire.NumActiveStreamsChanged, uint32(n))
}

func (s *Server) broadcastEmpty(id wire.ServerMessageID) {
	s.forEachClientFd(func(fd int) error { return wire.WriteMessage(fd, uint32(id), nil, nil) })
}

func (s *Server) broadcastU32(id wire.ServerMessageID, v uint32) {
	p := wire.U32Payload{Value: v}
	s.forEachClientFd(func(fd int) error { return wire.WriteMessage(fd, uint32(id), p.Encode(), nil) })
}

func (s *Server) broadcastBool(id wire.ServerMessageID, v bool) {
	p := wire.BoolPayload{Value: v}
	s.forEachClientFd(func(fd int) error { return wire.WriteMessage(fd, uint32(id), p.Encode(), nil) })
}

func (s *Server) broadcastNodeValue(id wire.ServerMessageID, nodeID uint32, v int32) {
	p := wire.NodeValuePayload{NodeID: nodeID, Value: v}
	s.forEachClientFd(func(fd int) error { return wire.WriteMessage(fd, uint32(id), p.Encode(), nil) })
}

func (s *Server) forEachClientFd(fn func(fd int) error) {
	s.mu.Lock()
	clients := make([]*rclient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.writeMu.Lock()
		err := fn(c.fd)
		c.writeMu.Unlock()
		if err != nil {
			log.Printf("[server] client %d: broadcast: %v", c.id, err)
		}
	}
}

type serverstateNode struct {
	dev    uint32
	node   *iodev.Node
	active bool
}

func toNodeSnapshots(in []serverstateNode) []serverstate.NodeSnapshot {
	out := make([]serverstate.NodeSnapshot, 0, len(in))
	for _, s := range in {
		out = append(out, serverstate.NodeSnapshot{
			DevIdx:  s.dev,
			NodeIdx: s.node.Idx,
			Type:    string(s.node.Type),
			Plugged: s.node.Plugged,
			Volume:  s.node.Volume,
			Active:  s.active,
		})
	}
	return out
}

// checkPeerCred verifies the connecting process is owned by the same user
// as the server (spec §6's local-IPC-only trust model), via SO_PEERCRED,
// grounded on the x/sys/unix ecosystem convention already established for
// internal/wire and internal/shmutil.
func checkPeerCred(fd int) error {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return fmt.Errorf("server: SO_PEERCRED: %w", err)
	}
	if ucred.Uid != uint32(os.Getuid()) {
		return fmt.Errorf("server: rejecting peer uid %d (server runs as %d)", ucred.Uid, os.Getuid())
	}
	return nil
}
