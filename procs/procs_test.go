package procs_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/blob"
	"github.com/momentics/hioload-rpc/param"
	"github.com/momentics/hioload-rpc/procs"
	"github.com/momentics/hioload-rpc/rpc"
)

type db struct {
	table *rpc.ProcedureTable
	blobs api.BlobStore
}

func (d db) Procedures() *rpc.ProcedureTable { return d.table }
func (d db) Blobs() api.BlobStore            { return d.blobs }

type sink struct{ got []rpc.Response }

func (s *sink) Send(r rpc.Response) error {
	r.Body = append([]byte(nil), r.Body...)
	s.got = append(s.got, r)
	return nil
}

type entry struct {
	t rpc.Task
	c *rpc.Call
}

// spawner queues wakes from any goroutine; the test drains them.
type spawner struct {
	next  uint32
	tasks map[uint32]entry
	mu    sync.Mutex
	woken chan uint32
}

func newSpawner() *spawner {
	return &spawner{tasks: map[uint32]entry{}, woken: make(chan uint32, 64)}
}

func (s *spawner) Reserve() rpc.TaskID {
	s.next++
	return rpc.TaskID{Slot: s.next}
}
func (s *spawner) Attach(id rpc.TaskID, t rpc.Task, c *rpc.Call) { s.tasks[id.Slot] = entry{t, c} }
func (s *spawner) Release(id rpc.TaskID)                          { delete(s.tasks, id.Slot) }
func (s *spawner) Waker(id rpc.TaskID) func() {
	return func() { s.woken <- id.Slot }
}

// settle runs woken tasks until none is left.
func (s *spawner) settle(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for len(s.tasks) > 0 {
		select {
		case slot := <-s.woken:
			if e, ok := s.tasks[slot]; ok && rpc.PollTask(e.t, e.c) {
				delete(s.tasks, slot)
			}
		case <-deadline:
			t.Fatalf("%d tasks never finished", len(s.tasks))
		}
	}
}

type harness struct {
	d  *rpc.Dispatcher
	s  *sink
	sp *spawner
	id uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	table, err := procs.DefaultTable()
	if err != nil {
		t.Fatalf("DefaultTable: %v", err)
	}
	h := &harness{s: &sink{}, sp: newSpawner()}
	conn := &rpc.Connection{ID: 1, Environments: []uint32{procs.EnvFull}}
	h.d = rpc.NewDispatcher(conn, db{table, blob.NewMemoryStore(0)}, 0, h.s, h.sp)
	return h
}

// call sends one single-packet request and returns the final response.
func (h *harness) call(t *testing.T, iface, proc uint16, body []byte) rpc.Response {
	t.Helper()
	h.id++
	n := len(h.s.got)
	h.d.HandlePacket(h.id, append(rpc.Header{Iface: iface, Proc: proc}.Append(nil), body...), true)
	h.sp.settle(t)
	if len(h.s.got) != n+1 {
		t.Fatalf("got %d responses, want 1", len(h.s.got)-n)
	}
	return h.s.got[n]
}

func TestEchoAndNop(t *testing.T) {
	h := newHarness(t)
	if r := h.call(t, 0, procs.ProcEcho, []byte("ping")); string(r.Body) != "ping" || !r.Complete() {
		t.Fatalf("echo = %+v", r)
	}
	if r := h.call(t, 0, procs.ProcNop, nil); len(r.Body) != 0 || !r.Complete() || r.Failed() {
		t.Fatalf("nop = %+v", r)
	}
}

func TestSumAcrossPackets(t *testing.T) {
	h := newHarness(t)
	var vals []byte
	for _, v := range []uint64{1, 2, 3, 1000} {
		vals = binary.LittleEndian.AppendUint64(vals, v)
	}
	first := append(rpc.Header{Proc: procs.ProcSum}.Append(nil), vals[:5]...)
	h.d.HandlePacket(7, first, false)
	h.d.HandlePacket(7, vals[5:19], false)
	h.d.HandlePacket(7, vals[19:], true)
	h.sp.settle(t)
	if len(h.s.got) != 1 {
		t.Fatalf("responses = %d", len(h.s.got))
	}
	if got := binary.LittleEndian.Uint64(h.s.got[0].Body); got != 1006 {
		t.Fatalf("sum = %d", got)
	}
	if h.d.OpenStreams() != 0 {
		t.Fatal("stream not released")
	}

	// ragged tail
	h.d.HandlePacket(8, append(rpc.Header{Proc: procs.ProcSum}.Append(nil), 1, 2, 3), true)
	if r := h.s.got[1]; !r.Failed() || r.Code() != api.ErrCodeInvalidArgument {
		t.Fatalf("ragged sum = %+v", r)
	}
}

func TestBlobLifecycle(t *testing.T) {
	h := newHarness(t)
	put := h.call(t, uint16(procs.IfaceBlob), procs.ProcBlobPut, new(param.Builder).Bytes([]byte("data")).Build())
	if put.Failed() || len(put.Body) != 8 {
		t.Fatalf("put = %+v", put)
	}
	id := binary.LittleEndian.Uint64(put.Body)
	ref := new(param.Builder).Stored(id).Build()

	if got := h.call(t, uint16(procs.IfaceBlob), procs.ProcBlobGet, ref); string(got.Body) != "data" {
		t.Fatalf("get = %+v", got)
	}
	if del := h.call(t, uint16(procs.IfaceBlob), procs.ProcBlobDelete, ref); del.Failed() {
		t.Fatalf("delete = %+v", del)
	}
	if miss := h.call(t, uint16(procs.IfaceBlob), procs.ProcBlobGet, ref); miss.Code() != api.ErrCodeNotFound {
		t.Fatalf("get after delete = %+v", miss)
	}
	if bad := h.call(t, uint16(procs.IfaceBlob), procs.ProcBlobGet, []byte{1}); bad.Code() != api.ErrCodeInvalidArgument {
		t.Fatalf("malformed params = %+v", bad)
	}
}

func TestTxnAddAccumulates(t *testing.T) {
	h := newHarness(t)
	hdr := rpc.Header{Iface: uint16(procs.IfaceTxn), Proc: procs.ProcTxnAdd}

	if r := h.call(t, hdr.Iface, hdr.Proc, new(param.Builder).Integer(1).Build()); r.Code() != api.ErrCodeInvalidArgument {
		t.Fatalf("add outside transaction = %+v", r)
	}

	open := hdr
	open.Flags = rpc.FlagTransaction
	h.d.HandlePacket(100, append(open.Append(nil), new(param.Builder).Integer(5).Build()...), true)
	first := h.s.got[len(h.s.got)-1]
	if first.Status&rpc.StatusHandle == 0 {
		t.Fatalf("no handle in %+v", first)
	}

	fin := hdr
	fin.Flags = rpc.FlagHandle
	body := binary.LittleEndian.AppendUint64(fin.Append(nil), first.Handle|1)
	h.d.HandlePacket(101, append(body, new(param.Builder).Integer(7).Build()...), true)
	last := h.s.got[len(h.s.got)-1]
	if got := binary.LittleEndian.Uint64(last.Body); got != 12 {
		t.Fatalf("running total = %d", got)
	}
	if h.d.OpenTransactions() != 0 {
		t.Fatal("final statement left the transaction open")
	}
}

func TestPublicEnvironmentHidesBlobs(t *testing.T) {
	table, _ := procs.DefaultTable()
	s := &sink{}
	conn := &rpc.Connection{Environments: []uint32{procs.EnvPublic}}
	d := rpc.NewDispatcher(conn, db{table, nil}, 0, s, newSpawner())
	d.HandlePacket(1, rpc.Header{Iface: uint16(procs.IfaceBlob)}.Append(nil), true)
	if len(s.got) != 1 || s.got[0].Code() != api.ErrCodeInvalidArgument {
		t.Fatalf("responses = %+v", s.got)
	}
}
