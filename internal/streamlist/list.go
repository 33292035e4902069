package streamlist

import (
	"fmt"
	"log"
	"sync"
)

// List is the canonical registry of active rstreams (spec §4.5), grounded
// on rustyguts-bken/server/room.go's clients map[uint16]*Client registry
// with its mutex-guarded add/remove and changed-notification style.
type List struct {
	mu      sync.RWMutex
	streams map[uint32]*RStream

	// onChanged fires after every mutation (create/destroy), used by
	// observers like the speak-on-mute detector (spec §4.5).
	onChanged func()
}

// New returns an empty stream list.
func New() *List {
	return &List{streams: make(map[uint32]*RStream)}
}

// SetOnChanged installs the changed-hook, replacing any previous one.
func (l *List) SetOnChanged(fn func()) {
	l.mu.Lock()
	l.onChanged = fn
	l.mu.Unlock()
}

func (l *List) fireChanged() {
	l.mu.RLock()
	fn := l.onChanged
	l.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Create validates nothing itself (the caller validates format/fd count
// per spec §4.2) and allocates a fresh RStream, owning its shm/fds. The
// caller must still run the routing stream_added hook and update the
// returned stream's device attachment state.
func (l *List) Create(id uint32, rs *RStream) (*RStream, error) {
	l.mu.Lock()
	if _, exists := l.streams[id]; exists {
		l.mu.Unlock()
		return nil, fmt.Errorf("streamlist: stream id %d already exists", id)
	}
	rs.ID = id
	l.streams[id] = rs
	n := len(l.streams)
	l.mu.Unlock()

	log.Printf("[streamlist] stream %d created (dir=%v), total=%d", id, rs.Direction, n)
	l.fireChanged()
	return rs, nil
}

// Destroy removes and returns the stream, releasing its shm region. It is
// the caller's responsibility to have already detached it from any device
// (spec §4.7 stream_removed step 1).
func (l *List) Destroy(id uint32) (*RStream, error) {
	l.mu.Lock()
	rs, exists := l.streams[id]
	if !exists {
		l.mu.Unlock()
		return nil, fmt.Errorf("streamlist: stream id %d not found", id)
	}
	delete(l.streams, id)
	n := len(l.streams)
	l.mu.Unlock()

	if rs.Buffer != nil {
		// Buffer is heap-allocated Go memory here rather than a real
		// memfd mapping when no shm region was actually attached (e.g.
		// unit tests); shmutil.Region.Close is called by the owner that
		// created the mapping, not here, to avoid a double-close.
		rs.Buffer = nil
	}

	log.Printf("[streamlist] stream %d destroyed, total=%d", id, n)
	l.fireChanged()
	return rs, nil
}

// Get returns the stream with id, or nil.
func (l *List) Get(id uint32) *RStream {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.streams[id]
}

// Iter calls fn for every stream currently registered. fn must not call
// back into List (Create/Destroy) — iteration holds the read lock for its
// duration, mirroring the teacher's broadcastTarget snapshot-then-release
// pattern would be overkill here since streams are read-only during iter.
func (l *List) Iter(fn func(*RStream)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rs := range l.streams {
		fn(rs)
	}
}

// HasPinned reports whether any stream is pinned to devIdx (spec §4.5).
func (l *List) HasPinned(devIdx uint32) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rs := range l.streams {
		if rs.IsPinned && rs.PinnedDevIdx == devIdx {
			return true
		}
	}
	return false
}

// Count returns the number of registered streams (NUM_ACTIVE_STREAMS_CHANGED
// source of truth, spec §4.2).
func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.streams)
}
