// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame encoding/decoding and masking over byte slices.
// The streaming counterpart lives in framer.go; both share the header layout.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame represents one decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  byte
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// MaskBytes XORs p with key, starting at key position offset%4.
// Applying it twice with the same key and offset restores p.
func MaskBytes(key [4]byte, offset uint64, p []byte) {
	o := int(offset & 3)
	for i := range p {
		p[i] ^= key[(o+i)&3]
	}
}

// headerLen returns the total header size announced by the first two bytes.
func headerLen(b0, b1 byte) int {
	n := 2
	switch b1 & LenBits {
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

// parseHeader decodes a complete header of headerLen(hdr[0], hdr[1]) bytes.
func parseHeader(hdr []byte) (f Frame, length uint64, err error) {
	b0, b1 := hdr[0], hdr[1]
	if b0&RsvBits != 0 {
		return f, 0, fmt.Errorf("%w: reserved bits set", ErrProtocol)
	}
	f.Fin = b0&FinBit != 0
	f.Opcode = b0 & OpcodeBits
	f.Masked = b1&MaskBit != 0
	pos := 2
	switch l := b1 & LenBits; l {
	case len16Marker:
		length = uint64(binary.BigEndian.Uint16(hdr[pos:]))
		pos += 2
	case len64Marker:
		length = binary.BigEndian.Uint64(hdr[pos:])
		if length>>63 != 0 {
			return f, 0, fmt.Errorf("%w: payload length has most significant bit set", ErrProtocol)
		}
		pos += 8
	default:
		length = uint64(l)
	}
	if f.Masked {
		copy(f.MaskKey[:], hdr[pos:pos+4])
	}
	return f, length, nil
}

// AppendHeader appends a frame header for a payload of n bytes.
func AppendHeader(dst []byte, fin bool, opcode byte, n uint64, key *[4]byte) []byte {
	b0 := opcode & OpcodeBits
	if fin {
		b0 |= FinBit
	}
	var b1 byte
	if key != nil {
		b1 = MaskBit
	}
	switch {
	case n <= 125:
		dst = append(dst, b0, b1|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, b0, b1|len16Marker)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, b1|len64Marker)
		dst = binary.BigEndian.AppendUint64(dst, n)
	}
	if key != nil {
		dst = append(dst, key[:]...)
	}
	return dst
}

// AppendFrame appends a complete frame. A non-nil key masks the payload copy.
func AppendFrame(dst []byte, fin bool, opcode byte, payload []byte, key *[4]byte) []byte {
	dst = AppendHeader(dst, fin, opcode, uint64(len(payload)), key)
	start := len(dst)
	dst = append(dst, payload...)
	if key != nil {
		MaskBytes(*key, 0, dst[start:])
	}
	return dst
}

// ParseFrame decodes one frame from the front of b and returns the number of
// bytes consumed. A masked payload is unmasked in place. Incomplete input
// yields io.ErrUnexpectedEOF and consumes nothing.
func ParseFrame(b []byte) (Frame, int, error) {
	if len(b) < 2 {
		return Frame{}, 0, io.ErrUnexpectedEOF
	}
	hl := headerLen(b[0], b[1])
	if len(b) < hl {
		return Frame{}, 0, io.ErrUnexpectedEOF
	}
	f, length, err := parseHeader(b[:hl])
	if err != nil {
		return Frame{}, 0, err
	}
	if uint64(len(b)-hl) < length {
		return Frame{}, 0, io.ErrUnexpectedEOF
	}
	end := hl + int(length)
	f.Payload = b[hl:end]
	if f.Masked {
		MaskBytes(f.MaskKey, 0, f.Payload)
	}
	return f, end, nil
}
