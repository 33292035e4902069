// Package serverstate implements the single process-wide shared server
// state: system volume/mute, capture gain/mute, and the exported node list,
// guarded by a seqlock on a 32-bit update_count (spec §4.1, §5, §6).
//
// Grounded on rustyguts-bken/server/room.go's single-writer, many-reader
// mutex-guarded-field pattern ("protected by mu" throughout Room),
// reimplemented lock-free here because the real readers are other
// processes that cannot take the writer's mutex (spec §5: "readers use a
// begin/end seq-style protocol on update_count (odd = writing) with
// fences; retry on mismatch").
package serverstate

import (
	"math"
	"sync"
	"sync/atomic"
)

// Version must match between the exporter and any reader of a server-state
// mapping; mismatch is refused (spec §6).
const Version uint32 = 1

// NodeSnapshot is the exported view of one node in the system-wide node
// list (spec §3's Node, trimmed to what clients observe).
type NodeSnapshot struct {
	DevIdx    uint32
	NodeIdx   uint32
	Type      string
	Plugged   bool
	Volume    int
	Active    bool
}

// State is the process-wide shared region. A single writer (the server's
// routing/device code) calls the setters; any number of readers call the
// getters, which retry under the seqlock until they observe a consistent
// snapshot.
type State struct {
	version uint32

	updateCount atomic.Uint32 // odd while a writer is mid-update

	mu sync.Mutex // serializes writers only; readers never take this

	systemVolume  int32
	systemMute    bool
	userMute      bool
	captureMute   bool
	captureGain   float32
	nodes         []NodeSnapshot
	numActive     int32
	ncBlocked     bool
}

// New returns an initialized State with default volume/mute values.
func New() *State {
	s := &State{version: Version, systemVolume: 100}
	return s
}

// Version reports this region's layout version.
func (s *State) Version() uint32 { return s.version }

// begin/end bracket a write: odd update_count signals "writer in progress"
// to readers, per spec §4.1/§5.
func (s *State) begin() { s.updateCount.Add(1) }
func (s *State) end()   { s.updateCount.Add(1) }

// write runs fn under the writer mutex, bracketed by the seqlock counter.
func (s *State) write(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()
	fn()
	s.end()
}

// read runs fn (which must only read fields, never allocate observably)
// repeatedly until it observes a stable (even, unchanged) update_count
// around the read, per spec §5's begin/end retry protocol.
func (s *State) read(fn func()) {
	for {
		before := s.updateCount.Load()
		if before%2 == 1 {
			continue // writer in progress; spin-yield
		}
		fn()
		after := s.updateCount.Load()
		if before == after {
			return
		}
	}
}

// SetSystemVolume stores the 0..100 system volume.
func (s *State) SetSystemVolume(vol int) {
	s.write(func() { s.systemVolume = int32(vol) })
}

// SystemVolume returns the current system volume.
func (s *State) SystemVolume() (vol int) {
	s.read(func() { vol = int(s.systemVolume) })
	return
}

// SetSystemMute / SystemMute, SetUserMute / UserMute, SetCaptureMute /
// CaptureMute mirror the wire messages SET_SYSTEM_MUTE / SET_USER_MUTE /
// SET_SYSTEM_CAPTURE_MUTE (spec §4.2).
func (s *State) SetSystemMute(mute bool) { s.write(func() { s.systemMute = mute }) }
func (s *State) SystemMute() (mute bool) { s.read(func() { mute = s.systemMute }); return }

func (s *State) SetUserMute(mute bool) { s.write(func() { s.userMute = mute }) }
func (s *State) UserMute() (mute bool) { s.read(func() { mute = s.userMute }); return }

func (s *State) SetCaptureMute(mute bool) { s.write(func() { s.captureMute = mute }) }
func (s *State) CaptureMute() (mute bool) { s.read(func() { mute = s.captureMute }); return }

// EffectiveOutputMute reports whether output should be muted, the OR of
// system and user mute.
func (s *State) EffectiveOutputMute() bool {
	return s.SystemMute() || s.UserMute()
}

// SetCaptureGain / CaptureGain store the ui_gain_scaler-derived capture
// gain (spec §4.6).
func (s *State) SetCaptureGain(gain float32) { s.write(func() { s.captureGain = gain }) }
func (s *State) CaptureGain() (gain float32) { s.read(func() { gain = s.captureGain }); return }

// SetNodes replaces the exported node list; called after any routing
// change that must be visible to clients (spec §4.2's NODES_CHANGED).
func (s *State) SetNodes(nodes []NodeSnapshot) {
	cp := append([]NodeSnapshot(nil), nodes...)
	s.write(func() { s.nodes = cp })
}

// Nodes returns a copy of the current node list.
func (s *State) Nodes() (nodes []NodeSnapshot) {
	s.read(func() { nodes = append([]NodeSnapshot(nil), s.nodes...) })
	return
}

// SetNumActiveStreams / NumActiveStreams mirror NUM_ACTIVE_STREAMS_CHANGED.
func (s *State) SetNumActiveStreams(n int) { s.write(func() { s.numActive = int32(n) }) }
func (s *State) NumActiveStreams() (n int) { s.read(func() { n = int(s.numActive) }); return }

// SetNCBlocked / NCBlocked expose the computed NC-blocked flag (spec §4.7,
// §8).
func (s *State) SetNCBlocked(blocked bool) { s.write(func() { s.ncBlocked = blocked }) }
func (s *State) NCBlocked() (blocked bool) { s.read(func() { blocked = s.ncBlocked }); return }

// gainToScaler and scalerToGain translate between the 0..100 UI gain value
// and the dBFS-derived ui_gain_scaler per spec §4.6's piecewise mapping,
// exposed here because State stores the scaler form.
func gainToScaler(level int, maxGainCentiDB int) float32 {
	var centiDB int
	if level < 50 {
		// [0,50) -> [-2000, 0)
		centiDB = -2000 + (level * 2000 / 50)
	} else {
		// [50,100] -> [0, maxGainCentiDB]
		centiDB = (level - 50) * maxGainCentiDB / 50
	}
	return float32(math.Pow(10, float64(centiDB)/2000.0))
}

// GainToScaler is the exported form of gainToScaler for use by the node
// model (spec §4.6).
func GainToScaler(level int, maxGainCentiDB int) float32 {
	return gainToScaler(level, maxGainCentiDB)
}
