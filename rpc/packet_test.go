package rpc_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/rpc"
)

func TestPacketEnvelope(t *testing.T) {
	b := rpc.AppendPacket(nil, 0x0102030405060708, true, []byte("body"))
	if len(b) != rpc.PacketHeaderSize+4 || b[0] != 0x08 {
		t.Fatalf("encoding = % x", b)
	}
	id, last, chunk, err := rpc.ParsePacket(b)
	if err != nil || id != 0x0102030405060708 || !last || string(chunk) != "body" {
		t.Fatalf("ParsePacket = %x %v %q %v", id, last, chunk, err)
	}
	if _, _, _, err := rpc.ParsePacket(b[:8]); !errors.Is(err, rpc.ErrShortPacket) {
		t.Fatalf("short packet err = %v", err)
	}
}

func TestResponseEncoding(t *testing.T) {
	r := rpc.Response{Stream: 9, Status: rpc.StatusComplete | rpc.StatusHandle, Handle: 6, Body: []byte("ok")}
	got, err := rpc.ParseResponse(rpc.AppendResponse(nil, r))
	if err != nil || got.Stream != 9 || got.Handle != 6 || string(got.Body) != "ok" || !got.Complete() {
		t.Fatalf("ParseResponse = %+v, %v", got, err)
	}
	if _, err := rpc.ParseResponse(rpc.AppendResponse(nil, r)[:12]); !errors.Is(err, rpc.ErrShortResponse) {
		t.Fatalf("truncated handle err = %v", err)
	}

	sink := &recordingSink{}
	tbl, _ := rpc.NewProcedureTable(nil, nil)
	d := rpc.NewDispatcher(&rpc.Connection{}, testDB{tbl}, 0, sink, newSpawner())
	d.HandlePacket(4, nil, true)
	wire := rpc.AppendResponse(nil, sink.got[0])
	back, err := rpc.ParseResponse(wire)
	if err != nil || !back.Failed() || back.Code() != api.ErrCodeInvalidArgument {
		t.Fatalf("error response = %+v, %v", back, err)
	}
}
