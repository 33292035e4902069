package wire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// header is the {length, id} prefix common to every control-socket frame
// (spec §4.2). length is the total frame size including this header.
type header struct {
	Length uint32
	ID     uint32
}

const headerSize = 8

// ErrTruncated is returned when a received frame's actual size does not
// match its declared length, or a short read/write occurred. Per spec §7
// this is always a transport error: fatal to the connection.
type ErrTruncated struct {
	Declared, Actual int
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("wire: truncated frame: declared=%d actual=%d", e.Declared, e.Actual)
}

// ErrBadFDCount is returned when a message with a fixed ancillary-fd
// contract receives the wrong number of fds (spec §4.2).
type ErrBadFDCount struct {
	Want, Got int
}

func (e *ErrBadFDCount) Error() string {
	return fmt.Sprintf("wire: bad fd count: want=%d got=%d", e.Want, e.Got)
}

// Message is a decoded control-socket frame: an id, its raw payload bytes
// (the caller unmarshals per-ID), and any ancillary fds it carried.
type Message struct {
	ID      uint32
	Payload []byte
	FDs     []int
}

// maxFrame bounds a single control message to guard against a hostile or
// corrupt peer claiming an enormous length.
const maxFrame = 1 << 20

// maxAncillaryFDs bounds SCM_RIGHTS fd counts per message (spec never
// carries more than two fds in one frame; STREAM_CONNECTED is the largest).
const maxAncillaryFDs = 4

// WriteMessage marshals id+payload with the spec §4.2 length-prefix framing
// and sends it over conn, attaching fds as SCM_RIGHTS ancillary data.
// Grounded on rustyguts-bken/server/client.go's sendRaw/SendControl pattern
// of a single mutex-guarded write call; callers are responsible for their
// own write-serialization mutex, as the teacher's callers do.
func WriteMessage(fd int, id uint32, payload []byte, fds []int) error {
	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(frame)))
	binary.LittleEndian.PutUint32(frame[4:8], id)
	copy(frame[headerSize:], payload)

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	n, err := unix.SendmsgN(fd, frame, oob, nil, 0)
	if err != nil {
		return fmt.Errorf("wire: sendmsg: %w", err)
	}
	if n != len(frame) {
		return &ErrTruncated{Declared: len(frame), Actual: n}
	}
	return nil
}

// ReadMessage receives one frame from fd, up to maxFrame bytes, and
// extracts any SCM_RIGHTS fds. A truncated frame (actual_len != declared
// length) is reported as *ErrTruncated, per spec §4.2/§7.
func ReadMessage(fd int) (*Message, error) {
	buf := make([]byte, maxFrame)
	oob := make([]byte, unix.CmsgSpace(maxAncillaryFDs*4))

	n, noob, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, fmt.Errorf("wire: recvmsg: %w", err)
	}
	if n < headerSize {
		return nil, &ErrTruncated{Declared: headerSize, Actual: n}
	}

	declared := int(binary.LittleEndian.Uint32(buf[0:4]))
	id := binary.LittleEndian.Uint32(buf[4:8])
	if declared != n {
		return nil, &ErrTruncated{Declared: declared, Actual: n}
	}

	fds, err := parseFDs(oob[:noob])
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:      id,
		Payload: append([]byte(nil), buf[headerSize:n]...),
		FDs:     fds,
	}
	return msg, nil
}

func parseFDs(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("wire: parse cmsg: %w", err)
	}
	var fds []int
	for _, cmsg := range cmsgs {
		parsed, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		fds = append(fds, parsed...)
	}
	return fds, nil
}

// RequireFDs validates that a message carries exactly want ancillary fds,
// returning *ErrBadFDCount otherwise (spec §4.2: "wrong fd count is a fatal
// protocol error").
func RequireFDs(msg *Message, want int) error {
	if len(msg.FDs) != want {
		return &ErrBadFDCount{Want: want, Got: len(msg.FDs)}
	}
	return nil
}
