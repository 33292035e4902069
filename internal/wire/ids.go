// Package wire defines the client/server message framing used over the
// control socket and the fixed audio-message record used over the
// audio-notify socket (spec §4.2).
package wire

// ClientMessageID identifies a client→server control message.
type ClientMessageID uint32

const (
	ConnectStream ClientMessageID = iota + 1
	DisconnectStream
	SetSystemVolume
	SetSystemMute
	SetUserMute
	SetSystemMuteLocked
	SetSystemCaptureMute
	SetSystemCaptureMuteLocked
	SetNodeAttr
	SelectNode
	AddActiveNode
	RmActiveNode
	ReloadDSP
	DumpDSPInfo
	DumpAudioThread
	GetAtlogFD
	DumpMain
	DumpBT
	SetBTWBSEnabled
	DumpSnapshots
	AddTestDev
	Suspend
	Resume
	GetHotwordModels
	SetHotwordModel
	RegisterNotification
	SetAECDump
	ReloadAECConfig
	SetAECRef
	RequestFloop
)

func (id ClientMessageID) String() string {
	if s, ok := clientMessageNames[id]; ok {
		return s
	}
	return "UNKNOWN_CLIENT_MESSAGE"
}

var clientMessageNames = map[ClientMessageID]string{
	ConnectStream:            "CONNECT_STREAM",
	DisconnectStream:         "DISCONNECT_STREAM",
	SetSystemVolume:          "SET_SYSTEM_VOLUME",
	SetSystemMute:            "SET_SYSTEM_MUTE",
	SetUserMute:              "SET_USER_MUTE",
	SetSystemMuteLocked:      "SET_SYSTEM_MUTE_LOCKED",
	SetSystemCaptureMute:     "SET_SYSTEM_CAPTURE_MUTE",
	SetSystemCaptureMuteLocked: "SET_SYSTEM_CAPTURE_MUTE_LOCKED",
	SetNodeAttr:              "SET_NODE_ATTR",
	SelectNode:               "SELECT_NODE",
	AddActiveNode:            "ADD_ACTIVE_NODE",
	RmActiveNode:             "RM_ACTIVE_NODE",
	ReloadDSP:                "RELOAD_DSP",
	DumpDSPInfo:              "DUMP_DSP_INFO",
	DumpAudioThread:          "DUMP_AUDIO_THREAD",
	GetAtlogFD:               "GET_ATLOG_FD",
	DumpMain:                 "DUMP_MAIN",
	DumpBT:                   "DUMP_BT",
	SetBTWBSEnabled:          "SET_BT_WBS_ENABLED",
	DumpSnapshots:            "DUMP_SNAPSHOTS",
	AddTestDev:               "ADD_TEST_DEV",
	Suspend:                  "SUSPEND",
	Resume:                   "RESUME",
	GetHotwordModels:         "GET_HOTWORD_MODELS",
	SetHotwordModel:          "SET_HOTWORD_MODEL",
	RegisterNotification:     "REGISTER_NOTIFICATION",
	SetAECDump:               "SET_AEC_DUMP",
	ReloadAECConfig:          "RELOAD_AEC_CONFIG",
	SetAECRef:                "SET_AEC_REF",
	RequestFloop:             "REQUEST_FLOOP",
}

// ServerMessageID identifies a server→client control message.
type ServerMessageID uint32

const (
	ClientConnected ServerMessageID = iota + 1
	StreamConnected
	AudioDebugInfoReady
	AtlogFDReady
	GetHotwordModelsReady
	RequestFloopReady
	OutputVolumeChanged
	OutputMuteChanged
	CaptureGainChanged
	CaptureMuteChanged
	NodesChanged
	ActiveNodeChanged
	OutputNodeVolumeChanged
	NodeLeftRightSwappedChanged
	InputNodeGainChanged
	NumActiveStreamsChanged
)

func (id ServerMessageID) String() string {
	if s, ok := serverMessageNames[id]; ok {
		return s
	}
	return "UNKNOWN_SERVER_MESSAGE"
}

var serverMessageNames = map[ServerMessageID]string{
	ClientConnected:             "CLIENT_CONNECTED",
	StreamConnected:             "STREAM_CONNECTED",
	AudioDebugInfoReady:         "AUDIO_DEBUG_INFO_READY",
	AtlogFDReady:                "ATLOG_FD_READY",
	GetHotwordModelsReady:       "GET_HOTWORD_MODELS_READY",
	RequestFloopReady:           "REQUEST_FLOOP_READY",
	OutputVolumeChanged:         "OUTPUT_VOLUME_CHANGED",
	OutputMuteChanged:           "OUTPUT_MUTE_CHANGED",
	CaptureGainChanged:          "CAPTURE_GAIN_CHANGED",
	CaptureMuteChanged:          "CAPTURE_MUTE_CHANGED",
	NodesChanged:                "NODES_CHANGED",
	ActiveNodeChanged:           "ACTIVE_NODE_CHANGED",
	OutputNodeVolumeChanged:     "OUTPUT_NODE_VOLUME_CHANGED",
	NodeLeftRightSwappedChanged: "NODE_LEFT_RIGHT_SWAPPED_CHANGED",
	InputNodeGainChanged:        "INPUT_NODE_GAIN_CHANGED",
	NumActiveStreamsChanged:     "NUM_ACTIVE_STREAMS_CHANGED",
}

// AudioMessageID identifies the 1-byte id in a fixed audio-fd record.
type AudioMessageID uint8

const (
	RequestData AudioMessageID = iota + 1
	DataReady
	DataCaptured
)

// Direction is a stream's data-flow direction (spec §3).
type Direction int

const (
	Output Direction = iota
	Input
	PostMixPreDSP
	PostDSP
	PostDSPDelayed
)

// IsInputLike reports whether the direction reads from the world.
func (d Direction) IsInputLike() bool {
	return d == Input || d == PostMixPreDSP || d == PostDSP || d == PostDSPDelayed
}

// IsOutputLike reports whether the direction writes to the world.
func (d Direction) IsOutputLike() bool {
	return d == Output
}

// Effects is a bitmask of per-stream DSP effect requests/constraints,
// recovered from original_source/adhd/cras/src/common/cras_client.h's
// cras_stream_effects (spec.md names rstream.effects but never enumerates
// its bits).
type Effects uint32

const (
	EffectAEC Effects = 1 << iota
	EffectNS
	EffectAGC
	EffectHotwordDetect
	EffectAECOnDSPDisallowed
	EffectNoiseCancellation
)

// Has reports whether all bits in mask are set.
func (e Effects) Has(mask Effects) bool { return e&mask == mask }

// ClientType masks which client categories a flexible-loopback pair admits
// (spec §4.9).
type ClientType uint32

const (
	ClientTypeUnknown ClientType = 1 << iota
	ClientTypeChrome
	ClientTypeARC
	ClientTypeCrosVM
	ClientTypePluginVM
	ClientTypeLacros
	ClientTypeTest
)

// Has reports whether any bit of candidate is set in mask (the
// client-type-mask matching rule used by flexible loopback, spec §4.9).
func (mask ClientType) Has(candidate ClientType) bool { return mask&candidate != 0 }

// StreamID packs (client_id, stream_index) per spec §3.
type StreamID uint32

// NewStreamID forms the spec §3 stream identifier.
func NewStreamID(clientID uint16, streamIndex uint16) StreamID {
	return StreamID(uint32(clientID)<<16 | uint32(streamIndex))
}

// ClientID extracts the high 16 bits.
func (s StreamID) ClientID() uint16 { return uint16(s >> 16) }

// StreamIndex extracts the low 16 bits.
func (s StreamID) StreamIndex() uint16 { return uint16(s) }

// NodeID packs (dev_idx, node_idx), mirroring StreamID's packing, grounded
// on original_source/adhd/cras_iodev_list.c's cras_make_node_id used to key
// the OUTPUT_NODE_VOLUME_CHANGED/NODE_LEFT_RIGHT_SWAPPED_CHANGED/
// INPUT_NODE_GAIN_CHANGED notifications (spec §4.6).
type NodeID uint32

// NewNodeID forms a node identifier from its device and node index.
func NewNodeID(devIdx, nodeIdx uint32) NodeID {
	return NodeID(devIdx<<16 | (nodeIdx & 0xffff))
}

// DevIdx extracts the high bits.
func (n NodeID) DevIdx() uint32 { return uint32(n) >> 16 }

// NodeIdx extracts the low 16 bits.
func (n NodeID) NodeIdx() uint32 { return uint32(n) & 0xffff }

// NodeAttr identifies which field SET_NODE_ATTR mutates (spec §4.6),
// grounded on original_source's enum ionode_attr.
type NodeAttr uint32

const (
	NodeAttrPlugged NodeAttr = iota + 1
	NodeAttrVolume
	NodeAttrCaptureGain
	NodeAttrDisplayRotation
	NodeAttrSwapLeftRight
)
