// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

const (
	// Data opcodes
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2

	// Control opcodes; a Close ends the stream, the rest are not accepted.
	OpcodeClose = 0x8
	OpcodePing  = 0x9
	OpcodePong  = 0xA

	MaxFrameHeaderLen = 14 // 2 base + 8 extended length + 4 mask key

	FinBit     = 0x80
	RsvBits    = 0x70
	OpcodeBits = 0x0F
	MaskBit    = 0x80
	LenBits    = 0x7F

	len16Marker = 126
	len64Marker = 127
)
