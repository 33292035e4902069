// Package routing implements the routing policy engine: the decision of
// which devices are open, which streams are attached where, and when the
// fallback (silent) devices must be engaged to hide gaps (spec §4.7). It
// is the most intricate subsystem in the CORE and owns no I/O of its own —
// it only drives the iodev.Device state machine, the stream registry, and
// the exported server state.
//
// Grounded on rustyguts-bken/server/room.go's single-registry-with-hooks
// idiom (a central struct guarded by one mutex, mutating methods that fire
// notification callbacks), generalized from chat-room membership to
// device/stream attachment.
package routing

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"audiosrv/internal/format"
	"audiosrv/internal/iodev"
	"audiosrv/internal/loopback"
	"audiosrv/internal/serverstate"
	"audiosrv/internal/streamlist"
	"audiosrv/internal/wire"
)

// MetricsSink receives routing/device telemetry. Implemented by
// internal/metrics.Sink; kept as a narrow interface here so the policy
// engine has no dependency on Prometheus.
type MetricsSink interface {
	DeviceOpenFailed(deviceLabel string)
	FallbackEngaged(direction string)
	SetActiveStreams(n int)
	SetNCBlocked(blocked bool)
	SetFloopPairsAllocated(n int)
}

// Notifier delivers the server->client notifications the routing engine
// triggers (spec §4.2's NODES_CHANGED / ACTIVE_NODE_CHANGED /
// NUM_ACTIVE_STREAMS_CHANGED messages); the server package implements it
// by broadcasting to connected rclients.
type Notifier interface {
	NodesChanged()
	ActiveNodeChanged(dir wire.Direction, devIdx uint32)
	NumActiveStreamsChanged(n int)
}

// ErrNoDeviceAvailable is returned by stream_added when neither a pinned
// device, a fallback, nor any enabled device could take the stream.
var ErrNoDeviceAvailable = errors.New("routing: no device available")

// ErrHotwordDeviceNotActive is returned when a pinned hotword stream's
// target device does not have an active HOTWORD node (spec §4.7 step 1).
var ErrHotwordDeviceNotActive = errors.New("routing: pinned hotword device has no active hotword node")

// directionState tracks one direction's (OUTPUT or INPUT) device universe:
// the fallback device plus every other registered device, with an
// explicit enabled list (spec §4.7's "enabled-device list").
type directionState struct {
	devices      map[uint32]*iodev.Device
	enabledOrder []uint32 // non-fallback devices currently enabled, insertion order
	fallback     *iodev.Device
}

func newDirectionState() *directionState {
	return &directionState{devices: make(map[uint32]*iodev.Device)}
}

func (ds *directionState) isEnabled(devIdx uint32) bool {
	for _, idx := range ds.enabledOrder {
		if idx == devIdx {
			return true
		}
	}
	return false
}

func (ds *directionState) enable(devIdx uint32) {
	if !ds.isEnabled(devIdx) {
		ds.enabledOrder = append(ds.enabledOrder, devIdx)
	}
}

func (ds *directionState) disable(devIdx uint32) {
	out := ds.enabledOrder[:0]
	for _, idx := range ds.enabledOrder {
		if idx != devIdx {
			out = append(out, idx)
		}
	}
	ds.enabledOrder = out
}

// Policy is the routing policy engine (spec §4.7). One Policy instance
// owns the device universe for the whole server.
type Policy struct {
	mu sync.Mutex

	outputs *directionState
	inputs  *directionState

	streams *streamlist.List
	state   *serverstate.State
	floop   *loopback.FloopManager

	metrics  MetricsSink // nil-checked, ambient concern
	notifier Notifier    // nil-checked, may be unset in unit tests

	retry *retryScheduler
	idle  *idleTimer

	cbThreshold int // default callback threshold used when (re)opening devices

	hotwordPauseAtSuspend bool
	suspended             bool
	autoResume            bool

	// detachedOnSuspend records streams that were attached before Suspend,
	// so Resume can re-add them via stream_added (spec §4.7's Suspend/Resume
	// pair).
	detachedOnSuspend []*streamlist.RStream

	// floopAttachments records, per stream id, which floop input device
	// indices an OUTPUT stream's audio was fanned into, so stream_removed
	// can undo exactly that (spec §4.7 step 4 / §4.9).
	floopAttachments map[uint32][]uint32
}

// New constructs a Policy. cbThreshold is the default frames-per-callback
// used when a device must be (re)opened without an explicit caller value
// (e.g. a reopen-for-higher-channels or reset-for-NC cycle).
func New(streams *streamlist.List, state *serverstate.State, floop *loopback.FloopManager, metrics MetricsSink, notifier Notifier, cbThreshold int) *Policy {
	p := &Policy{
		outputs:          newDirectionState(),
		inputs:           newDirectionState(),
		streams:          streams,
		state:            state,
		floop:            floop,
		metrics:          metrics,
		notifier:         notifier,
		cbThreshold:      cbThreshold,
		floopAttachments: make(map[uint32][]uint32),
	}
	p.retry = newRetryScheduler(p.onRetryFired)
	p.idle = newIdleTimer(p.onIdleExpired)
	return p
}

func (p *Policy) dirState(dir wire.Direction) *directionState {
	if dir.IsOutputLike() {
		return p.outputs
	}
	return p.inputs
}

func directionLabel(dir wire.Direction) string {
	if dir.IsOutputLike() {
		return "output"
	}
	return "input"
}

// RegisterDevice adds dev to the device universe for dir. If isFallback,
// dev becomes that direction's always-present fallback (spec §4.7: "two
// fallback devices, one per direction, are always registered but enabled
// only as needed").
func (p *Policy) RegisterDevice(dir wire.Direction, dev *iodev.Device, isFallback bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ds := p.dirState(dir)
	ds.devices[dev.Idx] = dev
	if isFallback {
		ds.fallback = dev
	}
}

// UnregisterDevice removes dev from the universe (used for ADD_TEST_DEV's
// counterpart teardown and hot-unplug).
func (p *Policy) UnregisterDevice(dir wire.Direction, devIdx uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ds := p.dirState(dir)
	delete(ds.devices, devIdx)
	ds.disable(devIdx)
	p.retry.Cancel(devIdx)
	p.idle.Cancel(devIdx)
}

// setFallbackEnabled opens/closes the direction's fallback device and
// records the metric on first engagement. Caller must hold p.mu.
func (p *Policy) setFallbackEnabled(dir wire.Direction, enabled bool) {
	ds := p.dirState(dir)
	if ds.fallback == nil {
		return
	}
	if enabled && !ds.fallback.IsOpen() {
		if err := ds.fallback.Open(p.cbThreshold, fallbackFormat); err != nil {
			log.Printf("routing: fallback open failed for dir %v: %v", dir, err)
			return
		}
		if p.metrics != nil {
			p.metrics.FallbackEngaged(directionLabel(dir))
		}
	} else if !enabled && ds.fallback.IsOpen() {
		ds.fallback.Close()
	}
}

// fallbackFormat is the format the silent fallback device is opened with:
// 48 kHz S16LE stereo, which is within internal/iodev.FallbackBackend's
// supported rates, formats and channel counts.
var fallbackFormat = newFallbackFormat()

func newFallbackFormat() format.Format {
	f := format.Format{SampleFormat: format.S16LE, RateHz: 48000, NumChannels: 2}
	for i := range f.ChannelLayout {
		f.ChannelLayout[i] = format.ChannelUnused
	}
	f.ChannelLayout[0] = 0
	f.ChannelLayout[1] = 1
	return f
}

// StreamAdded implements the stream_added hook (spec §4.7).
func (p *Policy) StreamAdded(rs *streamlist.RStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishActiveStreamCount()

	// Loopback-direction streams (POST_MIX_PRE_DSP / POST_DSP /
	// POST_DSP_DELAYED) are served by a flexible-loopback capture device;
	// resolve that first and treat the rest of attachment as a pinned
	// INPUT-direction stream (spec §4.9).
	if rs.Direction != wire.Output && rs.Direction != wire.Input {
		inputDevIdx, err := p.floop.RequestFloop(rs.ClientType)
		if err != nil {
			return err
		}
		rs.PinnedDevIdx = inputDevIdx
		rs.IsPinned = true
		p.floop.AttachStream(inputDevIdx)
		p.floop.SetBuffer(inputDevIdx, rs.Buffer)
	}

	dir := wire.Input
	if rs.Direction == wire.Output {
		dir = wire.Output
	}
	ds := p.dirState(dir)

	// Step 1: pinned streams go straight to their named device.
	if rs.IsPinned {
		dev, ok := ds.devices[rs.PinnedDevIdx]
		if !ok {
			return fmt.Errorf("routing: pinned device %d not found", rs.PinnedDevIdx)
		}
		if rs.IsHotword() {
			n := dev.ActiveNode()
			if n == nil || n.Type != iodev.NodeHotword {
				return ErrHotwordDeviceNotActive
			}
		}
		if err := p.openAndAttach(dev, rs); err != nil {
			p.retry.Schedule(dev.Idx)
			return err
		}
		return nil
	}

	attachedNonFallback := false

	// Step 2: ride the already-enabled fallback immediately so audio flows
	// while the rest of this hook runs.
	if ds.fallback != nil && ds.fallback.IsOpen() {
		ds.fallback.AttachStream(rs.ID)
	}

	// Step 3: try every enabled non-fallback device.
	for _, devIdx := range append([]uint32(nil), ds.enabledOrder...) {
		dev := ds.devices[devIdx]
		if dev == nil {
			continue
		}
		if dev.IsOpen() && int(rs.Format.NumChannels) > currentChannels(dev) && int(rs.Format.NumChannels) <= dev.MaxSupportedChannels() {
			// Re-open at the higher channel count; fallback rides the gap.
			p.setFallbackEnabled(dir, true)
			if err := p.reopenForChannels(dev, rs.Format.NumChannels); err != nil {
				if p.metrics != nil {
					p.metrics.DeviceOpenFailed(dev.Name)
				}
				continue
			}
			dev.AttachStream(rs.ID)
			attachedNonFallback = true
			continue
		}
		if err := p.openAndAttach(dev, rs); err != nil {
			continue
		}
		attachedNonFallback = true
	}

	// Step 4: fan into any matching flexible-loopback pair.
	if rs.Direction == wire.Output {
		touched := p.floop.AttachMatchingOutputStreams(rs.ClientType)
		if len(touched) > 0 {
			p.floopAttachments[rs.ID] = touched
		}
		if p.metrics != nil {
			p.metrics.SetFloopPairsAllocated(p.floop.Count())
		}
	}

	// Step 5: a successful non-fallback attach retires the fallback.
	if attachedNonFallback {
		p.setFallbackEnabled(dir, false)
		return nil
	}

	// Step 6: nothing worked; keep the fallback up so the client is not
	// blocked.
	p.setFallbackEnabled(dir, true)
	if p.metrics != nil {
		p.metrics.DeviceOpenFailed("none-available")
	}
	return ErrNoDeviceAvailable
}

// openAndAttach opens dev (if not already open) at rs's format and
// attaches rs. Caller holds p.mu.
func (p *Policy) openAndAttach(dev *iodev.Device, rs *streamlist.RStream) error {
	if !dev.IsOpen() {
		if err := dev.Open(rs.CBThreshold, rs.Format); err != nil {
			if p.metrics != nil {
				p.metrics.DeviceOpenFailed(dev.Name)
			}
			log.Printf("routing: device %d open failed: %v", dev.Idx, err)
			return err
		}
	}
	dev.AttachStream(rs.ID)
	p.idle.Cancel(dev.Idx)
	return nil
}

// reopenForChannels closes and reopens dev at the same rate/format but a
// higher channel count (spec §4.7's reopen-for-higher-channels rule).
func (p *Policy) reopenForChannels(dev *iodev.Device, numChannels uint8) error {
	cur := dev.Format()
	if cur == nil {
		return fmt.Errorf("routing: device %d has no current format", dev.Idx)
	}
	next := *cur
	next.NumChannels = numChannels
	if err := dev.Close(); err != nil {
		return err
	}
	return dev.Open(p.cbThreshold, next)
}

func currentChannels(dev *iodev.Device) int {
	f := dev.Format()
	if f == nil {
		return 0
	}
	return int(f.NumChannels)
}

// StreamRemoved implements the stream_removed hook (spec §4.7).
func (p *Policy) StreamRemoved(rs *streamlist.RStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishActiveStreamCount()

	for _, ds := range []*directionState{p.outputs, p.inputs} {
		for _, dev := range ds.devices {
			if !dev.HasStreams() {
				continue
			}
			dev.DetachStream(rs.ID)
		}
	}

	if rs.Direction != wire.Output && rs.Direction != wire.Input {
		p.floop.DetachStream(rs.PinnedDevIdx)
		p.floop.ClearBuffer(rs.PinnedDevIdx)
	}

	if touched, ok := p.floopAttachments[rs.ID]; ok {
		p.floop.DetachMatchingOutputStreams(touched)
		delete(p.floopAttachments, rs.ID)
		if p.metrics != nil {
			p.metrics.SetFloopPairsAllocated(p.floop.Count())
		}
	}

	dir := wire.Input
	if rs.Direction == wire.Output {
		dir = wire.Output
	}
	ds := p.dirState(dir)
	for _, devIdx := range ds.enabledOrder {
		dev := ds.devices[devIdx]
		if dev == nil || dev.IsPinned || dev.HasStreams() {
			continue
		}
		if dir.IsOutputLike() {
			p.idle.Arm(dev.Idx)
		} else {
			dev.Close()
		}
	}
	return nil
}

// DeliverOutputBlock is the entry point an output device's write path (the
// real-time mixer is an external collaborator, spec §1/§2) calls once per
// block of mixed samples actually written to hardware: it fires devIdx's
// loopback taps and copies the block into every flexible-loopback pair
// whose mask matches a stream currently attached to devIdx (spec §4.9).
func (p *Policy) DeliverOutputBlock(devIdx uint32, stage iodev.LoopbackType, samples []byte) {
	p.mu.Lock()
	dev := p.outputs.devices[devIdx]
	p.mu.Unlock()
	if dev == nil {
		return
	}

	seen := make(map[wire.ClientType]bool)
	var clientTypes []wire.ClientType
	for _, id := range dev.StreamIDs() {
		rs := p.streams.Get(id)
		if rs == nil || seen[rs.ClientType] {
			continue
		}
		seen[rs.ClientType] = true
		clientTypes = append(clientTypes, rs.ClientType)
	}

	dev.DeliverLoopbackBlock(stage, samples)
	for _, ct := range clientTypes {
		p.floop.CopyBlock(ct, samples)
	}
}

// onIdleExpired closes an output device once its idle timeout elapses, as
// long as nothing re-attached in the meantime.
func (p *Policy) onIdleExpired(devIdx uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev := p.outputs.devices[devIdx]
	if dev == nil || dev.HasStreams() {
		return
	}
	dev.Close()
}

// onRetryFired re-attempts a pinned/failed device init; called by
// retryScheduler after its 1-second delay.
func (p *Policy) onRetryFired(devIdx uint32) {
	p.mu.Lock()
	dev, dir := p.findDevice(devIdx)
	p.mu.Unlock()
	if dev == nil {
		return
	}
	// Re-drive stream_added for every stream still wanting this device;
	// the stream list is the source of truth for "still wanting".
	p.streams.Iter(func(rs *streamlist.RStream) {
		if rs.IsPinned && rs.PinnedDevIdx == devIdx && rs.Direction.IsOutputLike() == dir.IsOutputLike() {
			if err := p.StreamAdded(rs); err != nil {
				p.retry.Schedule(devIdx)
			}
		}
	})
}

func (p *Policy) findDevice(devIdx uint32) (*iodev.Device, wire.Direction) {
	if d, ok := p.outputs.devices[devIdx]; ok {
		return d, wire.Output
	}
	if d, ok := p.inputs.devices[devIdx]; ok {
		return d, wire.Input
	}
	return nil, wire.Output
}

// AddActiveNode implements add_active_node (spec §4.7): enable the device
// on node if needed, reconfigure the backend, and notify.
func (p *Policy) AddActiveNode(dir wire.Direction, devIdx, nodeIdx uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ds := p.dirState(dir)
	dev, ok := ds.devices[devIdx]
	if !ok {
		return fmt.Errorf("routing: no such device %d", devIdx)
	}
	wasEnabled := ds.isEnabled(devIdx)
	differentNode := wasEnabled && dev.ActiveNodeIdx != nodeIdx
	if differentNode {
		ds.disable(devIdx)
		dev.Close()
	}
	if err := dev.SetActiveNode(nodeIdx); err != nil {
		return err
	}
	ds.enable(devIdx)
	p.notify(func() {
		p.notifier.ActiveNodeChanged(dir, devIdx)
	})
	p.refreshNCBlocked()
	return nil
}

// SelectNode implements select_node, the exclusive-selection variant
// (spec §4.7): every other non-fallback device in dir is disabled.
func (p *Policy) SelectNode(dir wire.Direction, devIdx, nodeIdx uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ds := p.dirState(dir)
	dev, ok := ds.devices[devIdx]
	if !ok {
		return fmt.Errorf("routing: no such device %d", devIdx)
	}

	alreadyEnabled := ds.isEnabled(devIdx)
	if !alreadyEnabled {
		p.setFallbackEnabled(dir, true)
	}

	for _, idx := range append([]uint32(nil), ds.enabledOrder...) {
		if idx == devIdx {
			continue
		}
		if other := ds.devices[idx]; other != nil {
			other.Close()
		}
		ds.disable(idx)
	}

	if err := dev.SetActiveNode(nodeIdx); err != nil {
		return err
	}
	if !dev.IsOpen() {
		if f := dev.Format(); f != nil {
			dev.Open(p.cbThreshold, *f)
		}
	}
	ds.enable(devIdx)
	p.setFallbackEnabled(dir, false)

	p.notify(func() {
		p.notifier.ActiveNodeChanged(dir, devIdx)
	})
	p.refreshNCBlocked()
	return nil
}

// Suspend implements the suspend hook (spec §4.7).
func (p *Policy) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var hotwordStreams []*streamlist.RStream
	var normalStreams []*streamlist.RStream
	p.streams.Iter(func(rs *streamlist.RStream) {
		if rs.IsHotword() {
			hotwordStreams = append(hotwordStreams, rs)
		} else {
			normalStreams = append(normalStreams, rs)
		}
	})

	for _, ds := range []*directionState{p.outputs, p.inputs} {
		for _, rs := range normalStreams {
			for _, dev := range ds.devices {
				dev.DetachStream(rs.ID)
			}
		}
	}
	for _, ds := range []*directionState{p.outputs, p.inputs} {
		for _, rs := range hotwordStreams {
			for _, dev := range ds.devices {
				dev.DetachStream(rs.ID)
			}
		}
	}

	for _, ds := range []*directionState{p.outputs, p.inputs} {
		// Devices stay on the enabled list across suspend (only closed);
		// Resume's re-add via stream_added re-opens them in place rather
		// than re-deriving the enabled set from scratch.
		for _, idx := range ds.enabledOrder {
			if dev := ds.devices[idx]; dev != nil {
				dev.Close()
			}
		}
		if ds.fallback != nil {
			ds.fallback.Close()
		}
	}

	p.detachedOnSuspend = append(append([]*streamlist.RStream(nil), normalStreams...), hotwordStreams...)

	if p.hotwordPauseAtSuspend && len(hotwordStreams) > 0 {
		// Only the auto-resume flag is recorded here: hotword streams are
		// not moved onto another device during suspend, and Resume re-adds
		// them through StreamAdded like every other stream.
		p.autoResume = true
	}
	p.suspended = true
	return nil
}

// Resume implements the resume hook (spec §4.7).
func (p *Policy) Resume() error {
	p.mu.Lock()
	streams := p.detachedOnSuspend
	p.detachedOnSuspend = nil
	wasAutoResume := p.autoResume
	p.autoResume = false
	p.suspended = false
	p.mu.Unlock()

	for _, rs := range streams {
		if err := p.StreamAdded(rs); err != nil {
			log.Printf("routing: resume re-add failed for stream %d: %v", rs.ID, err)
		}
	}

	// Streams landing back on output devices cross-fade from zero rather
	// than snapping to full volume (spec §4.7).
	p.mu.Lock()
	for _, idx := range p.outputs.enabledOrder {
		if dev := p.outputs.devices[idx]; dev != nil && dev.HasStreams() {
			dev.InitialRampRequest = iodev.RampResumeMute
		}
	}
	p.mu.Unlock()

	if wasAutoResume {
		log.Printf("routing: resume restored hotword streams after auto-resume")
	}
	return nil
}

// IsSuspended reports whether the system is currently in the suspended
// state set by Suspend and cleared by Resume.
func (p *Policy) IsSuspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// SetHotwordPauseAtSuspend toggles the system flag consulted by Suspend
// (spec §4.7).
func (p *Policy) SetHotwordPauseAtSuspend(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hotwordPauseAtSuspend = enabled
}

// DisableDevice implements disable-dev, forced vs. soft (spec §4.7).
func (p *Policy) DisableDevice(dir wire.Direction, devIdx uint32, forced bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ds := p.dirState(dir)
	dev, ok := ds.devices[devIdx]
	if !ok {
		return fmt.Errorf("routing: no such device %d", devIdx)
	}
	p.retry.Cancel(devIdx)
	if forced {
		for _, sid := range append([]uint32(nil), dev.Streams...) {
			dev.DetachStream(sid)
		}
		dev.Close()
		ds.disable(devIdx)
		return nil
	}
	// Soft disable: pinned streams stay attached, device stays open.
	for _, sid := range append([]uint32(nil), dev.Streams...) {
		if rs := p.streams.Get(sid); rs != nil && rs.IsPinned {
			continue
		}
		dev.DetachStream(sid)
	}
	ds.disable(devIdx)
	return nil
}

// ResetForNC implements reset-for-noise-cancellation (spec §4.7): every
// open input device whose active node supports NC is closed and reopened
// through the fallback so streams don't glitch.
func (p *Policy) ResetForNC() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ds := p.inputs
	for _, idx := range append([]uint32(nil), ds.enabledOrder...) {
		dev := ds.devices[idx]
		if dev == nil || !dev.IsOpen() {
			continue
		}
		n := dev.ActiveNode()
		if n == nil || !n.NCProvider.SupportsNC() {
			continue
		}

		p.setFallbackEnabled(wire.Input, true)

		streamIDs := append([]uint32(nil), dev.Streams...)
		f := dev.Format()
		if err := dev.Close(); err != nil {
			log.Printf("routing: reset-for-nc close failed on device %d: %v", idx, err)
			continue
		}
		if f != nil {
			if err := dev.Open(p.cbThreshold, *f); err != nil {
				log.Printf("routing: reset-for-nc reopen failed on device %d: %v", idx, err)
				continue
			}
		}
		for _, sid := range streamIDs {
			dev.AttachStream(sid)
		}

		p.setFallbackEnabled(wire.Input, false)
	}
	return nil
}

// refreshNCBlocked recomputes the NC-blocked flag (spec §4.7's "blocked-NC
// state") and publishes it to server state plus any registered notifier.
// Caller must hold p.mu.
func (p *Policy) refreshNCBlocked() {
	prevBlocked := p.state.NCBlocked()
	blocked := false

	for _, idx := range p.outputs.enabledOrder {
		dev := p.outputs.devices[idx]
		if dev == nil || !dev.IsOpen() {
			continue
		}
		n := dev.ActiveNode()
		if n != nil && !n.IsDSPAECUseCase() {
			blocked = true
			break
		}
	}

	if !blocked {
		p.streams.Iter(func(rs *streamlist.RStream) {
			if rs.Effects.Has(wire.EffectAECOnDSPDisallowed) && rs.Effects.Has(wire.EffectAEC) {
				blocked = true
			}
		})
	}

	p.state.SetNCBlocked(blocked)
	if p.metrics != nil {
		p.metrics.SetNCBlocked(blocked)
	}
	if p.notifier != nil && blocked != prevBlocked {
		p.notifier.NodesChanged()
	}
}

// notify runs fn if a notifier is registered; routing tests commonly leave
// it nil.
func (p *Policy) notify(fn func()) {
	if p.notifier != nil {
		fn()
	}
}

// publishActiveStreamCount mirrors the stream list's size into server
// state, metrics, and NUM_ACTIVE_STREAMS_CHANGED (spec §4.2). Caller must
// hold p.mu; the streamlist itself has its own mutex so this is safe to
// call with p.mu held.
func (p *Policy) publishActiveStreamCount() {
	n := p.streams.Count()
	p.state.SetNumActiveStreams(n)
	if p.metrics != nil {
		p.metrics.SetActiveStreams(n)
	}
	if p.notifier != nil {
		p.notifier.NumActiveStreamsChanged(n)
	}
}
