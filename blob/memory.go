// File: blob/memory.go
// Author: momentics <momentics@gmail.com>
//
// In-process BlobStore used by the server when no external store is wired.

package blob

import (
	"context"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/momentics/hioload-rpc/api"
)

// MemoryStore keeps blobs in a map. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[uint64][]byte
	next  atomix.Uint64
	limit int
}

// NewMemoryStore creates a store holding at most limit bytes per blob
// (0 = unlimited).
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{blobs: make(map[uint64][]byte), limit: limit}
}

func (m *MemoryStore) Put(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.limit > 0 && len(data) > m.limit {
		return 0, fmt.Errorf("blob of %d bytes over limit %d: %w", len(data), m.limit, api.ErrResourceExhausted)
	}
	id := m.next.Add(1)
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.blobs[id] = cp
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, id uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	b, ok := m.blobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %d: %w", id, api.ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		return fmt.Errorf("blob %d: %w", id, api.ErrNotFound)
	}
	delete(m.blobs, id)
	return nil
}

// Len is the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

var _ api.BlobStore = (*MemoryStore)(nil)
