// File: rpc/header.go
// Author: momentics <momentics@gmail.com>

package rpc

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-rpc/api"
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 8

// Header flags.
const (
	// FlagTransaction begins or continues a transaction. On a statement that
	// carries a handle, a clear bit marks the final statement.
	FlagTransaction uint16 = 1 << 0
	// FlagHandle says a u64 continuation handle follows the header.
	FlagHandle uint16 = 1 << 1
)

var (
	ErrShortHeader = fmt.Errorf("rpc header shorter than %d bytes: %w", HeaderSize, api.ErrInvalidArgument)
	ErrOutOfRange  = fmt.Errorf("rpc index out of range: %w", api.ErrInvalidArgument)
	ErrBadHandle   = fmt.Errorf("rpc continuation handle rejected: %w", api.ErrInvalidArgument)
	ErrTooManyTxns = fmt.Errorf("rpc open transaction limit reached: %w", api.ErrInvalidArgument)
)

// Header opens every stream.
type Header struct {
	Env   uint16
	Iface uint16
	Proc  uint16
	Flags uint16
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Env:   binary.LittleEndian.Uint16(b[0:]),
		Iface: binary.LittleEndian.Uint16(b[2:]),
		Proc:  binary.LittleEndian.Uint16(b[4:]),
		Flags: binary.LittleEndian.Uint16(b[6:]),
	}, nil
}

// Append encodes h onto dst.
func (h Header) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, h.Env)
	dst = binary.LittleEndian.AppendUint16(dst, h.Iface)
	dst = binary.LittleEndian.AppendUint16(dst, h.Proc)
	return binary.LittleEndian.AppendUint16(dst, h.Flags)
}

func (h Header) String() string {
	return fmt.Sprintf("env=%d iface=%d proc=%d flags=%#x", h.Env, h.Iface, h.Proc, h.Flags)
}
