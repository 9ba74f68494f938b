// File: rpc/packet.go
// Author: momentics <momentics@gmail.com>
//
// Packet envelopes carried one per WebSocket binary message.
//
//	request:  u64 stream | u8 flags (bit0 last) | stream bytes
//	response: u64 stream | u8 status | [u64 handle] | body
//
// All integers little-endian. An error response body is the u16 error code.

package rpc

import (
	"encoding/binary"
	"errors"

	"github.com/momentics/hioload-rpc/api"
)

const (
	PacketHeaderSize   = 9
	PacketLast         = 1 << 0
	ResponseHeaderSize = 9
)

// Response status bits.
const (
	StatusComplete uint8 = 1 << 0
	StatusError    uint8 = 1 << 1
	StatusHandle   uint8 = 1 << 2
)

var (
	ErrShortPacket   = errors.New("rpc packet shorter than its envelope")
	ErrShortResponse = errors.New("rpc response shorter than its envelope")
)

// AppendPacket encodes a request packet.
func AppendPacket(dst []byte, stream uint64, last bool, chunk []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, stream)
	var flags byte
	if last {
		flags |= PacketLast
	}
	dst = append(dst, flags)
	return append(dst, chunk...)
}

// ParsePacket splits a request packet. chunk aliases b.
func ParsePacket(b []byte) (stream uint64, last bool, chunk []byte, err error) {
	if len(b) < PacketHeaderSize {
		return 0, false, nil, ErrShortPacket
	}
	return binary.LittleEndian.Uint64(b), b[8]&PacketLast != 0, b[PacketHeaderSize:], nil
}

// Response is one result packet for a stream.
type Response struct {
	Stream uint64
	Status uint8
	Handle uint64
	Body   []byte
}

func (r Response) Complete() bool { return r.Status&StatusComplete != 0 }
func (r Response) Failed() bool   { return r.Status&StatusError != 0 }

// Code returns the error code of a failed response, ErrCodeOK otherwise.
func (r Response) Code() api.ErrorCode {
	if !r.Failed() || len(r.Body) < 2 {
		return api.ErrCodeOK
	}
	return api.ErrorCode(binary.LittleEndian.Uint16(r.Body))
}

// AppendResponse encodes r onto dst.
func AppendResponse(dst []byte, r Response) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, r.Stream)
	dst = append(dst, r.Status)
	if r.Status&StatusHandle != 0 {
		dst = binary.LittleEndian.AppendUint64(dst, r.Handle)
	}
	return append(dst, r.Body...)
}

// ParseResponse decodes a response packet. Body aliases b.
func ParseResponse(b []byte) (Response, error) {
	if len(b) < ResponseHeaderSize {
		return Response{}, ErrShortResponse
	}
	r := Response{Stream: binary.LittleEndian.Uint64(b), Status: b[8]}
	b = b[ResponseHeaderSize:]
	if r.Status&StatusHandle != 0 {
		if len(b) < 8 {
			return Response{}, ErrShortResponse
		}
		r.Handle = binary.LittleEndian.Uint64(b)
		b = b[8:]
	}
	r.Body = b
	return r, nil
}

func errorBody(code api.ErrorCode) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(code))
}
