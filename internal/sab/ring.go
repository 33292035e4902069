package sab

import "fmt"

// Producer writes into the half named by WriteBufIdx; Consumer reads from
// the half named by ReadBufIdx. The two halves advance independently and
// only flip (ping-pong) when their owning side explicitly says it is done
// with the current half — mirroring spec §4.1's playback/capture protocol.

// WriteSpace returns how many bytes of the current write half are still
// free, i.e. usedSize - writeOffset[writeBufIdx].
func (b *Buffer) WriteSpace() int {
	h := b.Header
	half := h.WriteBufIdx()
	return h.usedSize - int(h.writeOffset[half].Load())
}

// Write copies data into the current write half at the current write
// offset, advancing write_offset[write_buf_idx]. It never writes past
// used_size; the returned n is the number of bytes actually accepted,
// which may be less than len(data) if the half is nearly full. Enforces
// the spec §3 invariant read_offset ≤ write_offset ≤ used_size for the
// half being written.
func (b *Buffer) Write(data []byte) (n int, err error) {
	h := b.Header
	half := h.WriteBufIdx()
	off := int(h.writeOffset[half].Load())
	space := h.usedSize - off
	if space <= 0 {
		return 0, nil
	}
	n = len(data)
	if n > space {
		n = space
	}
	base := half * h.usedSize
	copy(b.Samples[base+off:base+off+n], data[:n])
	h.writeOffset[half].Add(uint32(n))
	return n, nil
}

// FlipWrite finalizes the current write half: frames is the number of
// frames actually produced (frames * frame_bytes should equal
// write_offset[write_buf_idx] in the common case). It flips write_buf_idx
// to the other half and resets that half's write_offset to 0, readying it
// for the next cycle. Returns the DATA_READY frame count to report on the
// audio fd (spec §4.3).
func (b *Buffer) FlipWrite() (frames uint32) {
	h := b.Header
	half := h.WriteBufIdx()
	frames = uint32(int(h.writeOffset[half].Load()) / h.frameBytes)
	next := 1 - half
	h.writeOffset[next].Store(0)
	h.writeBufIdx.Store(int32(next))
	return frames
}

// ReadableFrames returns how many whole frames are available to read from
// the current read half: (write_offset - read_offset) / frame_bytes, but
// only when the reader and writer are on the same half (the reader has not
// yet caught up to a half the writer has already moved past). If the
// writer is ahead by a full half without the reader advancing, that is an
// overrun (spec §4.1) and is reported via OverrunFrames/RecordOverrun
// rather than here.
func (b *Buffer) ReadableFrames() int {
	h := b.Header
	readHalf := h.ReadBufIdx()
	writeHalf := h.WriteBufIdx()
	readOff := int(h.readOffset[readHalf].Load())
	if readHalf == writeHalf {
		writeOff := int(h.writeOffset[writeHalf].Load())
		return (writeOff - readOff) / h.frameBytes
	}
	// The writer has moved on to the other half while the reader is still
	// draining this one: the reader can finish what was written to this
	// half first.
	return (int(h.writeOffset[readHalf].Load()) - readOff) / h.frameBytes
}

// Read copies up to maxFrames*frame_bytes bytes out of the current read
// half starting at read_offset, advancing read_offset. It returns the
// number of frames actually copied. Per spec §4.3 ("verify n ≤
// readable_frames"), callers must clamp maxFrames to ReadableFrames()
// themselves; Read clamps defensively too.
func (b *Buffer) Read(dst []byte, maxFrames int) (framesRead int, err error) {
	h := b.Header
	half := h.ReadBufIdx()
	off := int(h.readOffset[half].Load())
	avail := b.ReadableFrames()
	if maxFrames > avail {
		maxFrames = avail
	}
	n := maxFrames * h.frameBytes
	if n <= 0 {
		return 0, nil
	}
	if n > len(dst) {
		return 0, fmt.Errorf("sab: dst too small: have %d, need %d", len(dst), n)
	}
	base := half * h.usedSize
	copy(dst[:n], b.Samples[base+off:base+off+n])
	h.readOffset[half].Add(uint32(n))
	return maxFrames, nil
}

// FlipRead finalizes the current read half once the reader has fully
// drained it (read_offset == used_size or the writer has already flipped
// past it), resetting read_offset to 0 and advancing read_buf_idx to the
// half the writer is now filling.
func (b *Buffer) FlipRead() {
	h := b.Header
	half := h.ReadBufIdx()
	next := 1 - half
	h.readOffset[half].Store(0)
	h.readBufIdx.Store(int32(next))
}

// RecordOverrun accounts for a capture overrun: the producer lapped the
// consumer. Per spec §4.1, the read pointer must not be silently advanced;
// instead the overrun counter increments and the caller is expected to
// resynchronize (typically by treating the buffer as corrupted for this
// cycle, per spec §4.3).
func (b *Buffer) RecordOverrun(frames uint32) {
	b.Header.overrunFrames.Add(uint64(frames))
}

// CheckInvariant verifies 0 ≤ read_offset[i] ≤ write_offset[i] ≤ used_size
// for both halves, as required by spec §3. It is intended for tests and
// debug assertions, not the real-time path.
func (b *Buffer) CheckInvariant() error {
	h := b.Header
	for i := 0; i < 2; i++ {
		ro := int(h.readOffset[i].Load())
		wo := int(h.writeOffset[i].Load())
		if ro < 0 || ro > wo || wo > h.usedSize {
			return fmt.Errorf("sab: invariant violated for half %d: read=%d write=%d used=%d", i, ro, wo, h.usedSize)
		}
	}
	return nil
}
