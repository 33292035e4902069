package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// AudioMessageSize is the fixed size of an audio-fd datagram (spec §4.2,
// §6): {id:u8, error:i8, frames:u32}. No length prefix — the audio-notify
// socket is SOCK_STREAM but every message is this exact size.
const AudioMessageSize = 1 + 1 + 4

// AudioMessage is a decoded audio-fd record.
type AudioMessage struct {
	ID     AudioMessageID
	Err    int8
	Frames uint32
}

// Encode serializes the record to its fixed 6-byte wire form.
func (m AudioMessage) Encode() []byte {
	buf := make([]byte, AudioMessageSize)
	buf[0] = byte(m.ID)
	buf[1] = byte(m.Err)
	binary.LittleEndian.PutUint32(buf[2:6], m.Frames)
	return buf
}

// DecodeAudioMessage parses a fixed-size audio-fd record. A size mismatch
// is fatal to the stream per spec §4.2 ("Mismatched size is fatal").
func DecodeAudioMessage(buf []byte) (AudioMessage, error) {
	if len(buf) != AudioMessageSize {
		return AudioMessage{}, &ErrTruncated{Declared: AudioMessageSize, Actual: len(buf)}
	}
	return AudioMessage{
		ID:     AudioMessageID(buf[0]),
		Err:    int8(buf[1]),
		Frames: binary.LittleEndian.Uint32(buf[2:6]),
	}, nil
}

// WriteAudioMessage sends one audio-fd record on fd. Every read on the other
// end must be sized exactly AudioMessageSize (spec §4.3, §5); a short
// write here would desync the peer's framing, so this function fails loudly
// rather than silently padding.
func WriteAudioMessage(fd int, m AudioMessage) error {
	buf := m.Encode()
	n, err := unix.Write(fd, buf)
	if err != nil {
		return fmt.Errorf("wire: audio write: %w", err)
	}
	if n != len(buf) {
		return &ErrTruncated{Declared: len(buf), Actual: n}
	}
	return nil
}

// ReadAudioMessage reads exactly one audio-fd record from fd. A short read
// is fatal per spec §4.3 ("short reads are fatal").
func ReadAudioMessage(fd int) (AudioMessage, error) {
	buf := make([]byte, AudioMessageSize)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return AudioMessage{}, fmt.Errorf("wire: audio read: %w", err)
	}
	if n == 0 {
		return AudioMessage{}, io.EOF
	}
	if n != AudioMessageSize {
		return AudioMessage{}, &ErrTruncated{Declared: AudioMessageSize, Actual: n}
	}
	return DecodeAudioMessage(buf)
}
