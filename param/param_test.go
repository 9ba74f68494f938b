package param_test

import (
	"context"
	"errors"
	"testing"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/blob"
	"github.com/momentics/hioload-rpc/param"
)

func TestParseFullBlock(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore(0)
	id, _ := store.Put(ctx, []byte("stored"))

	in := new(param.Builder).
		Integer(7).Integer(1 << 40).
		Stored(id).
		Bytes([]byte("tmp")).
		Raw([]byte{0xAA, 0xBB}).
		Bytes(nil).Bytes([]byte("var")).
		Build()
	s := param.Schema{Integer: 2, Stored: 1, Temp: 1, Binary: 2, Varlen: 2}
	b, err := param.Parse(in, s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.Integer[0] != 7 || b.Integer[1] != 1<<40 {
		t.Errorf("integers = %v", b.Integer)
	}
	if string(b.Temp[0]) != "tmp" || len(b.Varlen[0]) != 0 || string(b.Varlen[1]) != "var" {
		t.Errorf("temp=%q varlen=%q", b.Temp, b.Varlen)
	}
	if len(b.Binary) != 2 || b.Binary[1] != 0xBB {
		t.Errorf("binary = % x", b.Binary)
	}
	if err := b.Resolve(ctx, store); err != nil || string(b.Stored[0].Data) != "stored" {
		t.Fatalf("Resolve: %q, %v", b.Stored[0].Data, err)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	s := param.Schema{Integer: 1, Varlen: 1}
	good := new(param.Builder).Integer(1).Bytes([]byte("abc")).Build()
	cases := map[string][]byte{
		"short integer":  good[:5],
		"short length":   good[:10],
		"short varlen":   good[:len(good)-1],
		"trailing bytes": append(append([]byte(nil), good...), 0),
	}
	for name, in := range cases {
		if _, err := param.Parse(in, s); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if _, err := param.Parse(good, s); err != nil {
		t.Fatalf("good block: %v", err)
	}

	b, _ := param.Parse(new(param.Builder).Stored(99).Build(), param.Schema{Stored: 1})
	if err := b.Resolve(context.Background(), blob.NewMemoryStore(0)); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("dangling stored blob err = %v", err)
	}
}
