package command

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The console wire protocol: connect, one authentication frame, then
// request/response frames. A frame is a 4-byte big-endian payload length,
// a 1-byte type, and the payload. There is no correlation id on the wire,
// so responses must never interleave — the client serializes all calls.
const (
	frameAuth     byte = 0x01
	frameAuthOK   byte = 0x02
	frameAuthDeny byte = 0x03
	frameCommand  byte = 0x04
	frameResponse byte = 0x05
)

// maxPayload caps a single frame; console output is line-oriented and small.
const maxPayload = 1 << 20

// responseOK is the leading status byte of a successful response payload.
const responseOK byte = 0x01

func writeFrame(w io.Writer, typ byte, payload []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("frame payload %d exceeds limit", len(payload))
	}
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(payload)))
	hdr[4] = typ
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:4])
	if size > maxPayload {
		return 0, nil, fmt.Errorf("frame payload %d exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[4], payload, nil
}
