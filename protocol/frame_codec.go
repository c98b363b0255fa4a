// File: protocol/frame_codec.go
// Package protocol implements frame encoding and control frame builders.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrInvalidRsv is returned when Rsv does not fit into three bits.
var ErrInvalidRsv = errors.New("reserved bits out of range")

// EncodeFrame serializes f using len(f.Payload) as the payload length.
// The payload is masked with f.MaskKey only when f.Masked is set; frames
// written by the server never are.
func EncodeFrame(f *Frame) ([]byte, error) {
	return AppendFrame(nil, f)
}

// AppendFrame serializes f onto dst and returns the extended slice.
func AppendFrame(dst []byte, f *Frame) ([]byte, error) {
	if f.Rsv > 0x7 {
		return nil, ErrInvalidRsv
	}

	b0 := byte(f.Opcode)&OpcodeBit | f.Rsv<<4
	if f.Fin {
		b0 |= FinBit
	}
	var maskBit byte
	if f.Masked {
		maskBit = MaskBit
	}

	plen := len(f.Payload)
	var hdr [MaxFrameHeaderLen]byte
	hdr[0] = b0
	n := 2
	switch {
	case plen < len16Marker:
		hdr[1] = byte(plen) | maskBit
	case plen <= 0xFFFF:
		hdr[1] = len16Marker | maskBit
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
		n += 2
	default:
		hdr[1] = len64Marker | maskBit
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
		n += 8
	}
	if f.Masked {
		copy(hdr[n:], f.MaskKey[:])
		n += 4
	}

	dst = append(dst, hdr[:n]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	if f.Masked {
		maskBytes(dst[start:], f.MaskKey, 0)
	}
	return dst, nil
}

// NewTextFrame builds a final, unmasked text frame.
func NewTextFrame(text string) *Frame {
	return newFinalFrame(OpcodeText, []byte(text))
}

// NewPingFrame builds a ping with an empty payload.
func NewPingFrame() *Frame {
	return newFinalFrame(OpcodePing, nil)
}

// NewPongFrame builds a pong with an empty payload.
func NewPongFrame() *Frame {
	return newFinalFrame(OpcodePong, nil)
}

// NewCloseFrame builds a close frame carrying a 2-byte status code.
func NewCloseFrame(code uint16) *Frame {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, code)
	return newFinalFrame(OpcodeClose, payload)
}

// CloseCode extracts the status code of a close frame payload.
// ok is false when the payload is shorter than two bytes.
func CloseCode(payload []byte) (code uint16, ok bool) {
	if len(payload) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload[:2]), true
}

func newFinalFrame(op Opcode, payload []byte) *Frame {
	return &Frame{
		Fin:        true,
		Opcode:     op,
		PayloadLen: uint64(len(payload)),
		Payload:    payload,
	}
}
