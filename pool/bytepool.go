// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync"

// BytePool recycles fixed-size byte buffers. Safe for concurrent use.
type BytePool struct {
	p    sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	b := &BytePool{size: size}
	b.p.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return b
}

// Size is the length of buffers handed out by GetBuffer.
func (b *BytePool) Size() int { return b.size }

// GetBuffer returns a buffer of len Size().
func (b *BytePool) GetBuffer() []byte {
	return (*b.p.Get().(*[]byte))[:b.size]
}

// PutBuffer returns a buffer to the pool. Buffers of foreign capacity are dropped.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) < b.size {
		return
	}
	buf = buf[:b.size]
	b.p.Put(&buf)
}
