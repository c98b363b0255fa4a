// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame decoding and masking logic for incremental parsing.
//
// Decoding works on whatever bytes a single socket read produced: a frame
// whose payload is still in flight is returned partially filled and is
// completed later with AppendPayload.

package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	// ErrFrameTooLarge is returned when a declared payload length exceeds the limit.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")
	// ErrInvalidLength is returned when the 64-bit length form has its most
	// significant bit set.
	ErrInvalidLength = errors.New("64-bit payload length has the most significant bit set")
)

// Frame represents one decoded WebSocket frame.
type Frame struct {
	Fin        bool    // FIN bit
	Rsv        byte    // RSV1..RSV3 as a 3-bit value
	Opcode     Opcode  // Operation code
	Masked     bool    // Whether MaskKey applies
	MaskKey    [4]byte // Client masking key
	PayloadLen uint64  // Declared payload length
	Payload    []byte  // Unmasked payload accumulated so far
}

// IsPayloadComplete reports whether all declared payload bytes arrived.
func (f *Frame) IsPayloadComplete() bool {
	return uint64(len(f.Payload)) == f.PayloadLen
}

// Remaining returns the number of payload bytes still expected.
func (f *Frame) Remaining() uint64 {
	return f.PayloadLen - uint64(len(f.Payload))
}

// AppendPayload appends up to Remaining() bytes of buf to the payload,
// unmasking them with the key index continuing where the previous chunk ended.
// It returns the number of bytes taken from buf.
func (f *Frame) AppendPayload(buf []byte) int {
	n := len(buf)
	if rem := f.Remaining(); uint64(n) > rem {
		n = int(rem)
	}
	if n == 0 {
		return 0
	}
	start := len(f.Payload)
	f.Payload = append(f.Payload, buf[:n]...)
	if f.Masked {
		maskBytes(f.Payload[start:], f.MaskKey, start)
	}
	return n
}

// DecodeFrame parses one frame header plus as much payload as buf holds.
//
// It returns (nil, 0, nil) when the header itself is truncated; the caller
// keeps the bytes and retries once more input arrived. Otherwise consumed is
// the header length plus the payload bytes actually appended, which may be
// fewer than PayloadLen. maxPayload of 0 disables the size check.
func DecodeFrame(buf []byte, maxPayload uint64) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	hl := headerLen(buf[1])
	if len(buf) < hl {
		return nil, 0, nil
	}

	f := &Frame{
		Fin:    buf[0]&FinBit != 0,
		Rsv:    (buf[0] & RsvMask) >> 4,
		Opcode: Opcode(buf[0] & OpcodeBit),
		Masked: buf[1]&MaskBit != 0,
	}

	offset := 2
	switch length := buf[1] & LenMask; length {
	case len16Marker:
		f.PayloadLen = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case len64Marker:
		f.PayloadLen = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		if f.PayloadLen>>63 != 0 {
			return nil, 0, ErrInvalidLength
		}
	default:
		f.PayloadLen = uint64(length)
	}

	if maxPayload > 0 && f.PayloadLen > maxPayload {
		return nil, 0, ErrFrameTooLarge
	}

	if f.Masked {
		copy(f.MaskKey[:], buf[offset:offset+4])
		offset += 4
	}

	avail := len(buf) - offset
	if uint64(avail) > f.PayloadLen {
		avail = int(f.PayloadLen)
	}
	f.Payload = make([]byte, 0, avail)
	n := f.AppendPayload(buf[offset:])
	return f, offset + n, nil
}

// ReadFrame reads exactly one complete frame from a stream.
// Used on the client side of a connection, where blocking reads are fine.
func ReadFrame(r io.Reader, maxPayload uint64) (*Frame, error) {
	hdr := make([]byte, 2, MaxFrameHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	hl := headerLen(hdr[1])
	hdr = hdr[:hl]
	if _, err := io.ReadFull(r, hdr[2:]); err != nil {
		return nil, err
	}
	f, _, err := DecodeFrame(hdr, maxPayload)
	if err != nil {
		return nil, err
	}
	if f.PayloadLen == 0 {
		return f, nil
	}
	payload := make([]byte, f.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	f.AppendPayload(payload)
	return f, nil
}

// headerLen returns the full header size implied by the second header byte.
func headerLen(b1 byte) int {
	n := 2
	switch b1 & LenMask {
	case len16Marker:
		n += 2
	case len64Marker:
		n += 8
	}
	if b1&MaskBit != 0 {
		n += 4
	}
	return n
}

// maskBytes XORs buf with key, where buf starts at payload index pos.
func maskBytes(buf []byte, key [4]byte, pos int) {
	for i := range buf {
		buf[i] ^= key[(pos+i)%4]
	}
}
