package wire

import (
	"encoding/binary"
	"fmt"

	"audiosrv/internal/format"
)

// The payloads below are the fixed little-endian encodings for the subset
// of control messages this module's client and server exchange directly
// (spec §4.2). Every other ClientMessageID/ServerMessageID still frames
// correctly through WriteMessage/ReadMessage; callers that don't need a
// structured payload send/receive raw bytes.

// ConnectStreamPayload is CONNECT_STREAM's body (spec §4.4 step 1).
type ConnectStreamPayload struct {
	Direction    uint32
	StreamType   uint32
	ClientType   uint32
	BufferFrames uint32
	CBThreshold  uint32
	Flags        uint32
	Effects      uint32
	PinnedDevIdx uint32
	IsPinned     uint8
	Format       format.Format
}

// connectStreamFixedSize is 8 uint32 fields, IsPinned (1 byte),
// SampleFormat (1 byte), RateHz (4 bytes), NumChannels (1 byte), and the
// channel_layout array (format.CHMax bytes).
const connectStreamFixedSize = 4*8 + 1 + 1 + 4 + 1 + format.CHMax

// Encode serializes the payload.
func (p ConnectStreamPayload) Encode() []byte {
	buf := make([]byte, connectStreamFixedSize)
	off := 0
	putU32 := func(v uint32) { binary.LittleEndian.PutUint32(buf[off:off+4], v); off += 4 }
	putU32(p.Direction)
	putU32(p.StreamType)
	putU32(p.ClientType)
	putU32(p.BufferFrames)
	putU32(p.CBThreshold)
	putU32(p.Flags)
	putU32(p.Effects)
	putU32(p.PinnedDevIdx)
	buf[off] = p.IsPinned
	off++
	buf[off] = byte(p.Format.SampleFormat)
	off++
	putU32(p.Format.RateHz)
	buf[off] = p.Format.NumChannels
	off++
	for i := 0; i < format.CHMax; i++ {
		buf[off] = byte(p.Format.ChannelLayout[i])
		off++
	}
	return buf
}

// DecodeConnectStreamPayload parses a CONNECT_STREAM body.
func DecodeConnectStreamPayload(buf []byte) (ConnectStreamPayload, error) {
	if len(buf) != connectStreamFixedSize {
		return ConnectStreamPayload{}, fmt.Errorf("wire: bad CONNECT_STREAM payload size %d", len(buf))
	}
	var p ConnectStreamPayload
	off := 0
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off : off+4]); off += 4; return v }
	p.Direction = getU32()
	p.StreamType = getU32()
	p.ClientType = getU32()
	p.BufferFrames = getU32()
	p.CBThreshold = getU32()
	p.Flags = getU32()
	p.Effects = getU32()
	p.PinnedDevIdx = getU32()
	p.IsPinned = buf[off]
	off++
	p.Format.SampleFormat = format.SampleFormat(buf[off])
	off++
	p.Format.RateHz = getU32()
	p.Format.NumChannels = buf[off]
	off++
	for i := 0; i < format.CHMax; i++ {
		p.Format.ChannelLayout[i] = int8(buf[off])
		off++
	}
	return p, nil
}

// StreamConnectedPayload is STREAM_CONNECTED's body (spec §4.4 step 2).
type StreamConnectedPayload struct {
	StreamID       uint32
	Err            int32
	SamplesShmSize uint32
	BufferFrames   uint32
	CBThreshold    uint32
}

const streamConnectedSize = 4 * 5

func (p StreamConnectedPayload) Encode() []byte {
	buf := make([]byte, streamConnectedSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.StreamID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Err))
	binary.LittleEndian.PutUint32(buf[8:12], p.SamplesShmSize)
	binary.LittleEndian.PutUint32(buf[12:16], p.BufferFrames)
	binary.LittleEndian.PutUint32(buf[16:20], p.CBThreshold)
	return buf
}

func DecodeStreamConnectedPayload(buf []byte) (StreamConnectedPayload, error) {
	if len(buf) != streamConnectedSize {
		return StreamConnectedPayload{}, fmt.Errorf("wire: bad STREAM_CONNECTED payload size %d", len(buf))
	}
	return StreamConnectedPayload{
		StreamID:       binary.LittleEndian.Uint32(buf[0:4]),
		Err:            int32(binary.LittleEndian.Uint32(buf[4:8])),
		SamplesShmSize: binary.LittleEndian.Uint32(buf[8:12]),
		BufferFrames:   binary.LittleEndian.Uint32(buf[12:16]),
		CBThreshold:    binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// U32Payload is a generic single-uint32 body, used by DISCONNECT_STREAM
// (stream id) and the several SET_* messages that take one scalar.
type U32Payload struct{ Value uint32 }

func (p U32Payload) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, p.Value)
	return buf
}

func DecodeU32Payload(buf []byte) (U32Payload, error) {
	if len(buf) != 4 {
		return U32Payload{}, fmt.Errorf("wire: bad u32 payload size %d", len(buf))
	}
	return U32Payload{Value: binary.LittleEndian.Uint32(buf)}, nil
}

// BoolPayload is a generic single-byte boolean body, used by SET_SYSTEM_MUTE
// and its siblings.
type BoolPayload struct{ Value bool }

func (p BoolPayload) Encode() []byte {
	if p.Value {
		return []byte{1}
	}
	return []byte{0}
}

func DecodeBoolPayload(buf []byte) (BoolPayload, error) {
	if len(buf) != 1 {
		return BoolPayload{}, fmt.Errorf("wire: bad bool payload size %d", len(buf))
	}
	return BoolPayload{Value: buf[0] != 0}, nil
}

// NodeSelectPayload is the common {direction, dev_idx, node_idx} body
// shared by SELECT_NODE, ADD_ACTIVE_NODE and RM_ACTIVE_NODE.
type NodeSelectPayload struct {
	Direction uint32
	DevIdx    uint32
	NodeIdx   uint32
}

const nodeSelectSize = 4 * 3

func (p NodeSelectPayload) Encode() []byte {
	buf := make([]byte, nodeSelectSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Direction)
	binary.LittleEndian.PutUint32(buf[4:8], p.DevIdx)
	binary.LittleEndian.PutUint32(buf[8:12], p.NodeIdx)
	return buf
}

func DecodeNodeSelectPayload(buf []byte) (NodeSelectPayload, error) {
	if len(buf) != nodeSelectSize {
		return NodeSelectPayload{}, fmt.Errorf("wire: bad node-select payload size %d", len(buf))
	}
	return NodeSelectPayload{
		Direction: binary.LittleEndian.Uint32(buf[0:4]),
		DevIdx:    binary.LittleEndian.Uint32(buf[4:8]),
		NodeIdx:   binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// RequestFloopPayload is REQUEST_FLOOP's body: the client-type mask to
// match (spec §4.9).
type RequestFloopPayload struct{ ClientTypesMask uint32 }

func (p RequestFloopPayload) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, p.ClientTypesMask)
	return buf
}

func DecodeRequestFloopPayload(buf []byte) (RequestFloopPayload, error) {
	if len(buf) != 4 {
		return RequestFloopPayload{}, fmt.Errorf("wire: bad REQUEST_FLOOP payload size %d", len(buf))
	}
	return RequestFloopPayload{ClientTypesMask: binary.LittleEndian.Uint32(buf)}, nil
}

// RequestFloopReadyPayload is REQUEST_FLOOP_READY's body.
type RequestFloopReadyPayload struct {
	Err         int32
	InputDevIdx uint32
}

func (p RequestFloopReadyPayload) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Err))
	binary.LittleEndian.PutUint32(buf[4:8], p.InputDevIdx)
	return buf
}

func DecodeRequestFloopReadyPayload(buf []byte) (RequestFloopReadyPayload, error) {
	if len(buf) != 8 {
		return RequestFloopReadyPayload{}, fmt.Errorf("wire: bad REQUEST_FLOOP_READY payload size %d", len(buf))
	}
	return RequestFloopReadyPayload{
		Err:         int32(binary.LittleEndian.Uint32(buf[0:4])),
		InputDevIdx: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// NodeAttrPayload is SET_NODE_ATTR's body: the node to mutate plus which
// attribute and value (spec §4.6), grounded on original_source's
// struct cras_set_node_attr {node_id, attr, value}.
type NodeAttrPayload struct {
	DevIdx  uint32
	NodeIdx uint32
	Attr    uint32
	Value   int32
}

const nodeAttrSize = 4 * 4

func (p NodeAttrPayload) Encode() []byte {
	buf := make([]byte, nodeAttrSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.DevIdx)
	binary.LittleEndian.PutUint32(buf[4:8], p.NodeIdx)
	binary.LittleEndian.PutUint32(buf[8:12], p.Attr)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(p.Value))
	return buf
}

func DecodeNodeAttrPayload(buf []byte) (NodeAttrPayload, error) {
	if len(buf) != nodeAttrSize {
		return NodeAttrPayload{}, fmt.Errorf("wire: bad SET_NODE_ATTR payload size %d", len(buf))
	}
	return NodeAttrPayload{
		DevIdx:  binary.LittleEndian.Uint32(buf[0:4]),
		NodeIdx: binary.LittleEndian.Uint32(buf[4:8]),
		Attr:    binary.LittleEndian.Uint32(buf[8:12]),
		Value:   int32(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// NodeValuePayload is the {node_id, value} body shared by
// OUTPUT_NODE_VOLUME_CHANGED, NODE_LEFT_RIGHT_SWAPPED_CHANGED, and
// INPUT_NODE_GAIN_CHANGED (spec §4.6).
type NodeValuePayload struct {
	NodeID uint32
	Value  int32
}

const nodeValueSize = 4 * 2

func (p NodeValuePayload) Encode() []byte {
	buf := make([]byte, nodeValueSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.NodeID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Value))
	return buf
}

func DecodeNodeValuePayload(buf []byte) (NodeValuePayload, error) {
	if len(buf) != nodeValueSize {
		return NodeValuePayload{}, fmt.Errorf("wire: bad node-value payload size %d", len(buf))
	}
	return NodeValuePayload{
		NodeID: binary.LittleEndian.Uint32(buf[0:4]),
		Value:  int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// GetHotwordModelsPayload is GET_HOTWORD_MODELS's body: the node whose
// backend's model list is requested, grounded on original_source's
// struct cras_get_hotword_models {node_id}.
type GetHotwordModelsPayload struct {
	NodeID uint32
}

func (p GetHotwordModelsPayload) Encode() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], p.NodeID)
	return buf
}

func DecodeGetHotwordModelsPayload(buf []byte) (GetHotwordModelsPayload, error) {
	if len(buf) != 4 {
		return GetHotwordModelsPayload{}, fmt.Errorf("wire: bad GET_HOTWORD_MODELS payload size %d", len(buf))
	}
	return GetHotwordModelsPayload{NodeID: binary.LittleEndian.Uint32(buf[0:4])}, nil
}

// GetHotwordModelsReadyPayload is GET_HOTWORD_MODELS_READY's body: a
// comma-separated model name list, or Err set on failure, mirroring
// original_source's cras_fill_client_get_hotword_models_ready.
type GetHotwordModelsReadyPayload struct {
	Err    int32
	Models string // comma-separated model names
}

func (p GetHotwordModelsReadyPayload) Encode() []byte {
	buf := make([]byte, 4+len(p.Models))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Err))
	copy(buf[4:], p.Models)
	return buf
}

func DecodeGetHotwordModelsReadyPayload(buf []byte) (GetHotwordModelsReadyPayload, error) {
	if len(buf) < 4 {
		return GetHotwordModelsReadyPayload{}, fmt.Errorf("wire: bad GET_HOTWORD_MODELS_READY payload size %d", len(buf))
	}
	return GetHotwordModelsReadyPayload{
		Err:    int32(binary.LittleEndian.Uint32(buf[0:4])),
		Models: string(buf[4:]),
	}, nil
}

// SetHotwordModelPayload is SET_HOTWORD_MODEL's body: the node to switch plus
// the requested model name, grounded on original_source's
// struct cras_set_hotword_model {node_id, model_name}.
type SetHotwordModelPayload struct {
	NodeID    uint32
	ModelName string
}

func (p SetHotwordModelPayload) Encode() []byte {
	buf := make([]byte, 4+len(p.ModelName))
	binary.LittleEndian.PutUint32(buf[0:4], p.NodeID)
	copy(buf[4:], p.ModelName)
	return buf
}

func DecodeSetHotwordModelPayload(buf []byte) (SetHotwordModelPayload, error) {
	if len(buf) < 4 {
		return SetHotwordModelPayload{}, fmt.Errorf("wire: bad SET_HOTWORD_MODEL payload size %d", len(buf))
	}
	return SetHotwordModelPayload{
		NodeID:    binary.LittleEndian.Uint32(buf[0:4]),
		ModelName: string(buf[4:]),
	}, nil
}

// RegisterNotificationPayload is REGISTER_NOTIFICATION's body: which
// ServerMessageID the client wants (or no longer wants) delivered, grounded
// on original_source's struct cras_register_notification {msg_id,
// do_register}.
type RegisterNotificationPayload struct {
	MsgID      uint32
	DoRegister uint32
}

func (p RegisterNotificationPayload) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p.MsgID)
	binary.LittleEndian.PutUint32(buf[4:8], p.DoRegister)
	return buf
}

func DecodeRegisterNotificationPayload(buf []byte) (RegisterNotificationPayload, error) {
	if len(buf) != 8 {
		return RegisterNotificationPayload{}, fmt.Errorf("wire: bad REGISTER_NOTIFICATION payload size %d", len(buf))
	}
	return RegisterNotificationPayload{
		MsgID:      binary.LittleEndian.Uint32(buf[0:4]),
		DoRegister: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// ClientConnectedPayload is CLIENT_CONNECTED's body: the assigned client id
// and the size of the server-state shm region (spec §4.2).
type ClientConnectedPayload struct {
	ClientID     uint32
	StateShmSize uint32
}

func (p ClientConnectedPayload) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p.ClientID)
	binary.LittleEndian.PutUint32(buf[4:8], p.StateShmSize)
	return buf
}

func DecodeClientConnectedPayload(buf []byte) (ClientConnectedPayload, error) {
	if len(buf) != 8 {
		return ClientConnectedPayload{}, fmt.Errorf("wire: bad CLIENT_CONNECTED payload size %d", len(buf))
	}
	return ClientConnectedPayload{
		ClientID:     binary.LittleEndian.Uint32(buf[0:4]),
		StateShmSize: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}
