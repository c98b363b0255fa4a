// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

import "fmt"

// Opcode is the 4-bit frame type.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsControl reports whether the opcode belongs to the control range (>= 0x8).
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// String returns the lowercase opcode name, used as a metrics label.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("0x%x", byte(o))
	}
}

const (
	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // for extended payloads with masking

	// Length selectors of the 7-bit field
	len16Marker = 126
	len64Marker = 127

	// Bit masks
	FinBit    = 0x80
	RsvMask   = 0x70
	OpcodeBit = 0x0F
	MaskBit   = 0x80
	LenMask   = 0x7F
)

// Close codes
const (
	CloseNormalClosure      uint16 = 1000
	CloseGoingAway          uint16 = 1001
	CloseProtocolError      uint16 = 1002
	CloseUnsupportedData    uint16 = 1003
	CloseNoStatusRcvd       uint16 = 1005
	CloseAbnormalClosure    uint16 = 1006
	CloseInvalidPayloadData uint16 = 1007
	ClosePolicyViolation    uint16 = 1008
	CloseMessageTooBig      uint16 = 1009
	CloseMissingExtension   uint16 = 1010
	CloseInternalServerErr  uint16 = 1011
)
