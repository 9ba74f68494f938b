package pool_test

import (
	"testing"

	"github.com/momentics/hioload-rpc/pool"
)

func TestBytePoolSize(t *testing.T) {
	bp := pool.NewBytePool(512)
	buf := bp.GetBuffer()
	if len(buf) != 512 {
		t.Fatalf("len = %d, want 512", len(buf))
	}
	bp.PutBuffer(buf[:10])
	if got := len(bp.GetBuffer()); got != 512 {
		t.Errorf("recycled len = %d, want 512", got)
	}
	bp.PutBuffer(make([]byte, 8))
}
