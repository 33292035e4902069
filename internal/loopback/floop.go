package loopback

import (
	"fmt"
	"sync"

	"audiosrv/internal/sab"
	"audiosrv/internal/wire"
)

// MaxFloopPairs bounds the number of distinct flexible-loopback pairs the
// server will allocate (spec §6's numeric constants).
const MaxFloopPairs = 20

// Pair is one output+input flexible-loopback device pair, filtered by a
// client-type mask (spec §4.9).
type Pair struct {
	OutputDevIdx uint32
	InputDevIdx  uint32
	ClientTypesMask wire.ClientType

	// enabled becomes true only once a matching client stream attaches;
	// while enabled, output frames whose stream's client_type matches the
	// mask are copied into the pair's ring by the attaching device's audio
	// loop (spec §4.9).
	enabled      bool
	attachCount  int

	// buf is the SAB of the stream capturing from this pair's input
	// device, set via SetBuffer once that stream attaches. Nil until then,
	// in which case CopyBlock has nowhere to write and is a no-op.
	buf *sab.Buffer
}

// Enabled reports whether at least one matching stream is currently
// attached to this pair.
func (p *Pair) Enabled() bool { return p.enabled }

// FloopManager allocates and matches flexible-loopback pairs, bounded by
// MaxFloopPairs (spec §4.9/§6), grounded on
// rustyguts-bken/server/room.go's maxMsgOwners-style bounded-registry
// idiom, here refusing new allocation past the cap instead of evicting
// (the spec requires -EAGAIN, not silent eviction, once the floop table
// is full).
type FloopManager struct {
	mu    sync.Mutex
	pairs []*Pair

	nextOutputIdx uint32
	nextInputIdx  uint32
	baseOutputIdx uint32
	baseInputIdx  uint32
}

// NewFloopManager returns an empty manager allocating device indices
// starting above baseOutputIdx/baseInputIdx (reserved ranges owned by the
// caller's device list).
func NewFloopManager(baseOutputIdx, baseInputIdx uint32) *FloopManager {
	return &FloopManager{
		baseOutputIdx: baseOutputIdx,
		baseInputIdx:  baseInputIdx,
		nextOutputIdx: baseOutputIdx,
		nextInputIdx:  baseInputIdx,
	}
}

// ErrFloopCapacity is returned once MaxFloopPairs pairs have been
// allocated (spec: "the 21st distinct floop request returns -EAGAIN
// without side effects").
var ErrFloopCapacity = fmt.Errorf("loopback: floop capacity exhausted (max %d)", MaxFloopPairs)

// RequestFloop returns the input device index of an existing pair matching
// mask, or allocates a new pair if none matches (spec §4.9).
func (m *FloopManager) RequestFloop(mask wire.ClientType) (inputDevIdx uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pairs {
		if p.ClientTypesMask == mask {
			return p.InputDevIdx, nil
		}
	}
	if len(m.pairs) >= MaxFloopPairs {
		return 0, ErrFloopCapacity
	}

	m.nextOutputIdx++
	m.nextInputIdx++
	p := &Pair{
		OutputDevIdx:    m.nextOutputIdx,
		InputDevIdx:     m.nextInputIdx,
		ClientTypesMask: mask,
	}
	m.pairs = append(m.pairs, p)
	return p.InputDevIdx, nil
}

// AttachStream marks pair matching inputDevIdx as enabled (spec §4.9: "a
// floop pair becomes enabled only when at least one matching client
// stream attaches to it").
func (m *FloopManager) AttachStream(inputDevIdx uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(inputDevIdx); p != nil {
		p.attachCount++
		p.enabled = true
	}
}

// DetachStream unmarks one attachment; the pair disables once the last
// matching stream detaches.
func (m *FloopManager) DetachStream(inputDevIdx uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(inputDevIdx); p != nil && p.attachCount > 0 {
		p.attachCount--
		if p.attachCount == 0 {
			p.enabled = false
		}
	}
}

// MatchingPairs returns every enabled pair whose mask matches clientType,
// used by an output device's audio loop to decide which floop rings to
// copy a block of mixed samples into.
func (m *FloopManager) MatchingPairs(clientType wire.ClientType) []*Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Pair
	for _, p := range m.pairs {
		if p.enabled && p.ClientTypesMask.Has(clientType) {
			out = append(out, p)
		}
	}
	return out
}

// AttachMatchingOutputStreams marks every pair whose mask matches
// clientType as having one more attached stream, enabling it if this is
// the first (spec §4.7 step 4: "attach to any flexible-loopback device
// whose client_types_mask matches this stream"). It returns the input
// device indices of every pair touched, for the caller to remember and
// pass back to DetachMatchingOutputStreams on stream removal.
func (m *FloopManager) AttachMatchingOutputStreams(clientType wire.ClientType) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var touched []uint32
	for _, p := range m.pairs {
		if p.ClientTypesMask.Has(clientType) {
			p.attachCount++
			p.enabled = true
			touched = append(touched, p.InputDevIdx)
		}
	}
	return touched
}

// DetachMatchingOutputStreams undoes AttachMatchingOutputStreams for the
// given input device indices, disabling any pair whose count reaches zero.
func (m *FloopManager) DetachMatchingOutputStreams(inputDevIdxs []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range inputDevIdxs {
		if p := m.find(idx); p != nil && p.attachCount > 0 {
			p.attachCount--
			if p.attachCount == 0 {
				p.enabled = false
			}
		}
	}
}

// SetBuffer registers buf as the ring the pair matching inputDevIdx copies
// samples into, set once the stream capturing from that pair attaches
// (spec §4.9).
func (m *FloopManager) SetBuffer(inputDevIdx uint32, buf *sab.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(inputDevIdx); p != nil {
		p.buf = buf
	}
}

// ClearBuffer undoes SetBuffer when the capturing stream detaches.
func (m *FloopManager) ClearBuffer(inputDevIdx uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.find(inputDevIdx); p != nil {
		p.buf = nil
	}
}

// CopyBlock writes one block of output samples into every enabled pair
// whose mask matches clientType (spec §4.9's "output frames whose stream's
// client_type matches the mask are copied into the pair's ring").
func (m *FloopManager) CopyBlock(clientType wire.ClientType, samples []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pairs {
		if p.enabled && p.ClientTypesMask.Has(clientType) && p.buf != nil {
			p.buf.Write(samples)
			p.buf.FlipWrite()
		}
	}
}

func (m *FloopManager) find(inputDevIdx uint32) *Pair {
	for _, p := range m.pairs {
		if p.InputDevIdx == inputDevIdx {
			return p
		}
	}
	return nil
}

// Count returns the number of allocated pairs.
func (m *FloopManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pairs)
}
