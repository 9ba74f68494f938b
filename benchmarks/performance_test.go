// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for the hot paths of hioload-rpc.

package benchmarks

import (
	"bytes"
	"testing"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/pool"
	"github.com/momentics/hioload-rpc/procs"
	"github.com/momentics/hioload-rpc/protocol"
	"github.com/momentics/hioload-rpc/rpc"
)

// BenchmarkBytePool measures buffer recycling under parallel load.
func BenchmarkBytePool(b *testing.B) {
	p := pool.NewBytePool(16 << 10)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.PutBuffer(p.GetBuffer())
		}
	})
}

// BenchmarkSlabChurn measures insert/remove of connection slots.
func BenchmarkSlabChurn(b *testing.B) {
	s := pool.NewSlab[int](1024)
	for i := 0; i < b.N; i++ {
		slot, _ := s.Insert(i)
		s.Remove(slot)
	}
}

// BenchmarkFramerRead measures decoding of masked 1 KiB binary messages.
func BenchmarkFramerRead(b *testing.B) {
	payload := bytes.Repeat([]byte("x"), 1024)
	frame := protocol.AppendFrame(nil, true, protocol.OpcodeBinary, payload, &[4]byte{1, 2, 3, 4})
	var src bytes.Buffer
	buf := make([]byte, 2048)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src.Reset()
		src.Write(frame)
		f := protocol.NewFramer(&src)
		if _, err := f.ReadMessage(buf); err != nil {
			b.Fatal(err)
		}
	}
}

type benchDB struct{ t *rpc.ProcedureTable }

func (d benchDB) Procedures() *rpc.ProcedureTable { return d.t }
func (d benchDB) Blobs() api.BlobStore            { return nil }

type discard struct{}

func (discard) Send(rpc.Response) error { return nil }

type noSpawn struct{}

func (noSpawn) Reserve() rpc.TaskID                    { return rpc.TaskID{} }
func (noSpawn) Attach(rpc.TaskID, rpc.Task, *rpc.Call) {}
func (noSpawn) Release(rpc.TaskID)                     {}
func (noSpawn) Waker(rpc.TaskID) func()                { return func() {} }

// BenchmarkDispatchEcho measures header resolution and a synchronous call.
func BenchmarkDispatchEcho(b *testing.B) {
	table, err := procs.DefaultTable()
	if err != nil {
		b.Fatal(err)
	}
	d := rpc.NewDispatcher(&rpc.Connection{Environments: []uint32{procs.EnvFull}}, benchDB{table}, 0, discard{}, noSpawn{})
	req := append(rpc.Header{Proc: procs.ProcEcho}.Append(nil), "payload"...)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.HandlePacket(uint64(i), req, true)
	}
}
