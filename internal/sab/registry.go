package sab

import "sync"

// registry maps a stream id to the Buffer the server allocated for it, so
// that a client running in the same process can resolve the same Buffer by
// id instead of reconstructing one from the STREAM_CONNECTED shm fds (spec
// §4.1 describes attaching the two shm fds; this module's SAB is an
// in-process struct rather than a real mmap, so the fds are real but the
// Buffer handoff itself happens through this lookup table, per the
// in-process-sharing choice already documented for Header/Buffer).
var registry sync.Map // uint32 -> *Buffer

// Register makes buf discoverable by id. The caller (the stream list) owns
// calling Unregister when the stream is destroyed.
func Register(id uint32, buf *Buffer) {
	registry.Store(id, buf)
}

// Lookup returns the Buffer registered for id, if any.
func Lookup(id uint32) (*Buffer, bool) {
	v, ok := registry.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Buffer), true
}

// Unregister removes id's entry, if present.
func Unregister(id uint32) {
	registry.Delete(id)
}
