// Package iodev implements the device & node model: the catalog of
// playback/capture endpoints, their selectable nodes, and the capability
// set real/fallback/test/loopback devices all implement (spec §3, §4.6,
// §9's "replace the C struct-of-function-pointers with a capability set").
package iodev

import (
	"fmt"
	"sync"
	"time"

	"audiosrv/internal/format"
)

// State is a device's lifecycle state (spec §3).
type State int

const (
	Close State = iota
	Open
	NormalRun
	NoStreamRun
)

func (s State) String() string {
	switch s {
	case Close:
		return "CLOSE"
	case Open:
		return "OPEN"
	case NormalRun:
		return "NORMAL_RUN"
	case NoStreamRun:
		return "NO_STREAM_RUN"
	default:
		return "UNKNOWN"
	}
}

// MaxSpecialDeviceIdx bounds the reserved index range for fallback/silent
// devices (spec §3). Device index 0 is reserved ("no device").
const MaxSpecialDeviceIdx = 10

// Backend is the capability set a concrete device kind (real hardware,
// fallback/silent, test, loopback) implements. This replaces the C
// "struct of function pointers plus self" pattern named in spec §9 with a
// plain Go interface; Start and NoStream are optional (checked via
// interface assertion) because not every backend supports them, mirroring
// spec §3: "devices not supporting start skip OPEN and go straight to
// NORMAL_RUN".
type Backend interface {
	// Open validates format against the backend's supported rates/formats/
	// channel counts and acquires hardware resources.
	Open(cbThreshold int, f format.Format) error
	// Close releases hardware resources.
	Close() error
	// GetBuffer returns a byte slice of up to maxFrames frames the caller
	// may fill (output) or read (input), plus how many frames it covers.
	GetBuffer(maxFrames int) (buf []byte, frames int, err error)
	// PutBuffer commits framesDone frames from the most recent GetBuffer.
	PutBuffer(framesDone int) error
	// FramesQueued returns frames currently queued in hardware plus the
	// timestamp the count was valid at (used to derive spec §3's `ts`).
	FramesQueued() (frames int, ts time.Time, err error)
	// DelayFrames returns the device's fixed I/O latency in frames.
	DelayFrames() (frames int, err error)
	// SupportedRates/Formats/ChannelCounts/MaxSupportedChannels describe
	// the backend's negotiable format space (spec §4.6, §4.7's reopen
	// rule).
	SupportedRates() []uint32
	SupportedFormats() []format.SampleFormat
	SupportedChannelCounts() []int
	MaxSupportedChannels() int
}

// Starter is an optional capability: backends that need an explicit
// hardware start step (vs. going straight to NORMAL_RUN) implement it.
type Starter interface {
	Start() error
}

// NoStreamer is an optional capability: backends that can keep the
// hardware alive with synthesized silence when no stream is attached
// (NO_STREAM_RUN) implement it.
type NoStreamer interface {
	NoStream(enable bool) error
}

// Loopback is a registered tap on an output device (spec §4.9).
type Loopback struct {
	Type        LoopbackType
	DataHook    func(samples []byte)
	ControlHook func(enabled bool)
	CBData      any
}

// LoopbackType selects which stage of the pipeline a loopback tap observes.
type LoopbackType int

const (
	LoopbackPreDSP LoopbackType = iota
	LoopbackPostDSP
)

// RampState tracks an in-progress volume ramp (spec §3's ramp_state /
// initial_ramp_request, used by routing's resume-mute cross-fade).
type RampState int

const (
	RampNone RampState = iota
	RampResumeMute
	RampMuteRequest
	RampUnmuteRequest
)

// Device is a playback or capture endpoint (spec §3).
type Device struct {
	mu sync.Mutex

	Idx       uint32
	Direction int // wire.Direction, kept as int to avoid an import cycle with wire's Direction consumers
	Name      string

	Backend Backend

	Nodes        []*Node
	ActiveNodeIdx uint32 // index into Nodes, or ^uint32(0) if none

	format   *format.Format
	state    State
	isEnabled bool

	minBufferLevel int

	// EchoReferenceDevIdx names another device whose playback is used as
	// the AEC far-end reference, 0 if none (spec §3).
	EchoReferenceDevIdx uint32

	Loopbacks []*Loopback

	// Streams holds the indices (not pointers — spec §9's "two tables
	// keyed by index, not owning pointers") of rstreams currently
	// attached to this device.
	Streams []uint32

	OpenTS      time.Time
	IdleTimeout time.Time // zero means "no pending idle close"

	HighestHWLevel int
	NumUnderruns   int
	ResetQuota     int

	RampState           RampState
	InitialRampRequest RampState

	IsPinned bool // true if streams may be pinned to this device
}

// NewDevice constructs a device in the CLOSE state.
func NewDevice(idx uint32, direction int, name string, backend Backend) *Device {
	return &Device{
		Idx:           idx,
		Direction:     direction,
		Name:          name,
		Backend:       backend,
		ActiveNodeIdx: ^uint32(0),
		state:         Close,
	}
}

// State returns the device's current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Format returns the currently-open format, or nil if closed.
func (d *Device) Format() *format.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// IsOpen reports whether the device is in any non-CLOSE state.
func (d *Device) IsOpen() bool {
	return d.State() != Close
}

// Open validates f, calls the backend, and transitions CLOSE -> OPEN (or
// straight to NORMAL_RUN for backends without a Starter), per spec §3/§4.6.
func (d *Device) Open(cbThreshold int, f format.Format) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("iodev: device %d: %w", d.Idx, err)
	}
	if !d.supportsFormat(f) {
		return fmt.Errorf("iodev: device %d: unsupported format %+v", d.Idx, f)
	}

	d.mu.Lock()
	if d.state != Close {
		d.mu.Unlock()
		return fmt.Errorf("iodev: device %d: open called in state %s", d.Idx, d.state)
	}
	if err := d.Backend.Open(cbThreshold, f); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("iodev: device %d: backend open: %w", d.Idx, err)
	}
	d.format = &f
	d.OpenTS = time.Now()
	d.minBufferLevel = cbThreshold

	if starter, ok := d.Backend.(Starter); ok {
		if err := starter.Start(); err != nil {
			d.Backend.Close()
			d.format = nil
			d.mu.Unlock()
			return fmt.Errorf("iodev: device %d: backend start: %w", d.Idx, err)
		}
		d.state = Open
	} else {
		// Devices not supporting start skip OPEN and go straight to
		// NORMAL_RUN (spec §3).
		d.state = NormalRun
	}
	taps := append([]*Loopback(nil), d.Loopbacks...)
	d.mu.Unlock()

	// Fired outside the lock: a tap's control hook may call back into this
	// device (spec §4.9: "when the device moves OPEN -> closed -> open the
	// control hook is fired with true/false").
	for _, t := range taps {
		if t.ControlHook != nil {
			t.ControlHook(true)
		}
	}
	return nil
}

func (d *Device) supportsFormat(f format.Format) bool {
	rateOK, fmtOK, chOK := false, false, false
	for _, r := range d.Backend.SupportedRates() {
		if r == f.RateHz {
			rateOK = true
			break
		}
	}
	for _, sf := range d.Backend.SupportedFormats() {
		if sf == f.SampleFormat {
			fmtOK = true
			break
		}
	}
	for _, c := range d.Backend.SupportedChannelCounts() {
		if c == int(f.NumChannels) {
			chOK = true
			break
		}
	}
	return rateOK && fmtOK && chOK
}

// MaxSupportedChannels exposes the backend's ceiling, used by routing's
// reopen-for-higher-channels rule (spec §4.7).
func (d *Device) MaxSupportedChannels() int {
	return d.Backend.MaxSupportedChannels()
}

// Close releases all attached streams (the caller is expected to have
// already detached them via routing), stops ramps, and releases hardware
// (spec §4.6).
func (d *Device) Close() error {
	d.mu.Lock()
	if d.state == Close {
		d.mu.Unlock()
		return nil
	}
	err := d.Backend.Close()
	d.format = nil
	d.state = Close
	d.Streams = nil
	d.RampState = RampNone
	d.IdleTimeout = time.Time{}
	taps := append([]*Loopback(nil), d.Loopbacks...)
	d.mu.Unlock()

	for _, t := range taps {
		if t.ControlHook != nil {
			t.ControlHook(false)
		}
	}
	if err != nil {
		return fmt.Errorf("iodev: device %d: backend close: %w", d.Idx, err)
	}
	return nil
}

// RegisterLoopback adds a tap observing this device's mixed output and
// returns its index for later UnregisterLoopback (spec §4.9). If the
// device is already open, the caller is responsible for treating the tap
// as enabled from registration onward; ControlHook is only fired on the
// device's own subsequent OPEN/CLOSE transitions.
func (d *Device) RegisterLoopback(t *Loopback) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Loopbacks = append(d.Loopbacks, t)
	return len(d.Loopbacks) - 1
}

// UnregisterLoopback removes the tap at idx.
func (d *Device) UnregisterLoopback(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.Loopbacks) {
		return
	}
	d.Loopbacks = append(d.Loopbacks[:idx], d.Loopbacks[idx+1:]...)
}

// DeliverLoopbackBlock fires the data hook of every tap of the given stage
// with one block of samples written to hardware (spec §4.9: "for every
// block written to hardware the data hook is fired with the mixed
// samples"). Called by the device's write path once per block.
func (d *Device) DeliverLoopbackBlock(stage LoopbackType, samples []byte) {
	d.mu.Lock()
	taps := append([]*Loopback(nil), d.Loopbacks...)
	d.mu.Unlock()

	for _, t := range taps {
		if t.Type == stage && t.DataHook != nil {
			t.DataHook(samples)
		}
	}
}

// SetNoStreamRun toggles between NORMAL_RUN and NO_STREAM_RUN for devices
// whose backend can synthesize silence (spec §3); it is a no-op for
// backends without a NoStreamer.
func (d *Device) SetNoStreamRun(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Close {
		return fmt.Errorf("iodev: device %d: SetNoStreamRun while closed", d.Idx)
	}
	if ns, ok := d.Backend.(NoStreamer); ok {
		if err := ns.NoStream(enable); err != nil {
			return err
		}
	}
	if enable {
		d.state = NoStreamRun
	} else {
		d.state = NormalRun
	}
	return nil
}

// AttachStream records streamIdx as attached to this device (spec §9: the
// device owns its Streams index list, not the rstream itself).
func (d *Device) AttachStream(streamIdx uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.Streams {
		if s == streamIdx {
			return
		}
	}
	d.Streams = append(d.Streams, streamIdx)
	d.IdleTimeout = time.Time{}
}

// DetachStream removes streamIdx from this device's attached list.
func (d *Device) DetachStream(streamIdx uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.Streams[:0]
	for _, s := range d.Streams {
		if s != streamIdx {
			out = append(out, s)
		}
	}
	d.Streams = out
}

// HasStreams reports whether any streams are currently attached.
func (d *Device) HasStreams() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Streams) > 0
}

// StreamIDs returns a copy of the stream ids currently attached to this
// device, for callers (e.g. the output write path) that need to look
// streams up elsewhere without racing AttachStream/DetachStream.
func (d *Device) StreamIDs() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.Streams...)
}

// ActiveNode returns the currently selected node, or nil if none.
func (d *Device) ActiveNode() *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ActiveNodeIdx == ^uint32(0) {
		return nil
	}
	for _, n := range d.Nodes {
		if n.Idx == d.ActiveNodeIdx {
			return n
		}
	}
	return nil
}

// Node returns the node at nodeIdx, or nil if this device has none such
// (spec §4.6's SET_NODE_ATTR looks a node up by (dev_idx, node_idx)).
func (d *Device) Node(nodeIdx uint32) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.Nodes {
		if n.Idx == nodeIdx {
			return n
		}
	}
	return nil
}

// SetActiveNode changes the active node; safe to call while closed (spec
// §4.6). Only ActiveNodeIdx is updated: the backend is not notified and is
// not reconfigured for the new node.
func (d *Device) SetActiveNode(nodeIdx uint32) error {
	d.mu.Lock()
	found := false
	for _, n := range d.Nodes {
		if n.Idx == nodeIdx {
			found = true
			break
		}
	}
	if !found {
		d.mu.Unlock()
		return fmt.Errorf("iodev: device %d: no such node %d", d.Idx, nodeIdx)
	}
	d.ActiveNodeIdx = nodeIdx
	d.mu.Unlock()
	return nil
}

// OutputVolume computes the effective volume for an output node (spec
// §4.6): max(0, system_volume - (100 - node.volume)).
func OutputVolume(systemVolume, nodeVolume int) int {
	v := systemVolume - (100 - nodeVolume)
	if v < 0 {
		v = 0
	}
	return v
}
