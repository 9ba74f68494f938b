// File: param/param.go
// Author: momentics <momentics@gmail.com>
//
// Schema-driven parameter blocks. A block is laid out as, in order:
//
//	integer: Integer x u64
//	stored:  Stored  x u64 blob id
//	temp:    Temp    x (u32 length, bytes)
//	binary:  Binary  bytes
//	varlen:  Varlen  x (u32 length, bytes)
//
// All integers little-endian. Trailing bytes are an error.
package param

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-rpc/api"
)

// Schema gives the element counts of each section.
type Schema struct {
	Integer int
	Stored  int
	Temp    int
	Binary  int
	Varlen  int
}

// StoredBlob references a blob in the server BlobStore.
type StoredBlob struct {
	ID   uint64
	Data []byte // filled by Block.Resolve
}

// Block is a parsed parameter block. Byte slices alias the input.
type Block struct {
	Integer []uint64
	Stored  []StoredBlob
	Temp    [][]byte
	Binary  []byte
	Varlen  [][]byte
}

func malformed(section string, i int) error {
	return api.NewError(api.ErrCodeInvalidArgument, "malformed parameter block").
		WithContext("section", section).WithContext("index", i)
}

// Parse decodes a complete block according to s.
func Parse(input []byte, s Schema) (*Block, error) {
	if s.Integer < 0 || s.Stored < 0 || s.Temp < 0 || s.Binary < 0 || s.Varlen < 0 {
		return nil, fmt.Errorf("negative schema count: %w", api.ErrInvalidArgument)
	}
	b := &Block{
		Integer: make([]uint64, s.Integer),
		Stored:  make([]StoredBlob, s.Stored),
		Temp:    make([][]byte, s.Temp),
		Varlen:  make([][]byte, s.Varlen),
	}
	p := input
	for i := range b.Integer {
		if len(p) < 8 {
			return nil, malformed("integer", i)
		}
		b.Integer[i] = binary.LittleEndian.Uint64(p)
		p = p[8:]
	}
	for i := range b.Stored {
		if len(p) < 8 {
			return nil, malformed("stored", i)
		}
		b.Stored[i].ID = binary.LittleEndian.Uint64(p)
		p = p[8:]
	}
	var ok bool
	for i := range b.Temp {
		if b.Temp[i], p, ok = lengthPrefixed(p); !ok {
			return nil, malformed("temp", i)
		}
	}
	if len(p) < s.Binary {
		return nil, malformed("binary", 0)
	}
	b.Binary, p = p[:s.Binary], p[s.Binary:]
	for i := range b.Varlen {
		if b.Varlen[i], p, ok = lengthPrefixed(p); !ok {
			return nil, malformed("varlen", i)
		}
	}
	if len(p) != 0 {
		return nil, malformed("trailing", len(input)-len(p))
	}
	return b, nil
}

func lengthPrefixed(p []byte) (field, rest []byte, ok bool) {
	if len(p) < 4 {
		return nil, p, false
	}
	n := binary.LittleEndian.Uint32(p)
	p = p[4:]
	if uint64(len(p)) < uint64(n) {
		return nil, p, false
	}
	return p[:n], p[n:], true
}

// Resolve loads the data of every stored blob reference.
func (b *Block) Resolve(ctx context.Context, store api.BlobStore) error {
	for i := range b.Stored {
		data, err := store.Get(ctx, b.Stored[i].ID)
		if err != nil {
			return fmt.Errorf("stored parameter %d: %w", i, err)
		}
		b.Stored[i].Data = data
	}
	return nil
}

// Builder encodes blocks; used by clients and tests.
type Builder struct {
	buf []byte
}

func (w *Builder) Integer(v uint64) *Builder {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *Builder) Stored(id uint64) *Builder { return w.Integer(id) }

// Bytes appends a length-prefixed field (temp or varlen).
func (w *Builder) Bytes(p []byte) *Builder {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(p)))
	w.buf = append(w.buf, p...)
	return w
}

// Raw appends the fixed binary section.
func (w *Builder) Raw(p []byte) *Builder {
	w.buf = append(w.buf, p...)
	return w
}

func (w *Builder) Build() []byte { return w.buf }
