// File: procs/procs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Built-in procedures served by rpcserver.

package procs

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/param"
	"github.com/momentics/hioload-rpc/rpc"
)

// BlobTimeout bounds each store operation of the blob procedures.
var BlobTimeout = 5 * time.Second

// Echo returns the request body unchanged.
var Echo = rpc.ProcedureFunc(func(c *rpc.Call) rpc.Task {
	c.Result(c.Body, true)
	return nil
})

// Nop completes with an empty body.
var Nop = rpc.ProcedureFunc(func(c *rpc.Call) rpc.Task { return nil })

// Sum is a streaming procedure adding little-endian u64 values spread
// over any number of packets.
var Sum = rpc.ProcedureFunc(func(c *rpc.Call) rpc.Task {
	s := &sumTask{}
	s.Feed(c, c.Body, c.Last)
	if s.last {
		s.Poll(c)
		return nil
	}
	return s
})

type sumTask struct {
	total uint64
	carry []byte
	last  bool
}

func (s *sumTask) Feed(_ *rpc.Call, body []byte, last bool) {
	p := body
	if len(s.carry) > 0 {
		p = append(s.carry, body...)
		s.carry = nil
	}
	for len(p) >= 8 {
		s.total += binary.LittleEndian.Uint64(p)
		p = p[8:]
	}
	if len(p) > 0 {
		s.carry = append([]byte(nil), p...)
	}
	s.last = last
}

func (s *sumTask) Poll(c *rpc.Call) bool {
	if !s.last {
		return false
	}
	if len(s.carry) != 0 {
		c.ResultError(api.ErrCodeInvalidArgument)
		return true
	}
	c.Result(binary.LittleEndian.AppendUint64(nil, s.total), true)
	return true
}

// Schemas of the blob procedures.
var (
	BlobPutSchema    = param.Schema{Varlen: 1}
	BlobGetSchema    = param.Schema{Stored: 1}
	BlobDeleteSchema = param.Schema{Stored: 1}
)

// BlobPut stores its varlen parameter and returns the new blob id.
var BlobPut = rpc.ProcedureFunc(func(c *rpc.Call) rpc.Task {
	b, err := param.Parse(c.Body, BlobPutSchema)
	if err != nil {
		c.Fail(err)
		return nil
	}
	data := append([]byte(nil), b.Varlen[0]...)
	return async(c, func(ctx context.Context, store api.BlobStore) ([]byte, error) {
		id, err := store.Put(ctx, data)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint64(nil, id), nil
	})
})

// BlobGet returns the contents of a stored blob.
var BlobGet = rpc.ProcedureFunc(func(c *rpc.Call) rpc.Task {
	b, err := param.Parse(c.Body, BlobGetSchema)
	if err != nil {
		c.Fail(err)
		return nil
	}
	return async(c, func(ctx context.Context, store api.BlobStore) ([]byte, error) {
		if err := b.Resolve(ctx, store); err != nil {
			return nil, err
		}
		return b.Stored[0].Data, nil
	})
})

// BlobDelete removes a stored blob.
var BlobDelete = rpc.ProcedureFunc(func(c *rpc.Call) rpc.Task {
	b, err := param.Parse(c.Body, BlobDeleteSchema)
	if err != nil {
		c.Fail(err)
		return nil
	}
	id := b.Stored[0].ID
	return async(c, func(ctx context.Context, store api.BlobStore) ([]byte, error) {
		return nil, store.Delete(ctx, id)
	})
})

type outcome struct {
	body []byte
	err  error
}

// blobTask waits for a store operation running on its own goroutine.
type blobTask struct {
	done chan outcome
}

func async(c *rpc.Call, op func(context.Context, api.BlobStore) ([]byte, error)) rpc.Task {
	store := c.DB.Blobs()
	if store == nil {
		c.ResultError(api.ErrCodeNotSupported)
		return nil
	}
	t := &blobTask{done: make(chan outcome, 1)}
	wake := c.Waker()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), BlobTimeout)
		defer cancel()
		body, err := op(ctx, store)
		t.done <- outcome{body, err}
		wake()
	}()
	return t
}

func (t *blobTask) Poll(c *rpc.Call) bool {
	select {
	case o := <-t.done:
		if o.err != nil {
			c.Fail(o.err)
		} else {
			c.Result(o.body, true)
		}
		return true
	default:
		return false
	}
}

// TxnAdd adds its integer parameter to a per-transaction accumulator and
// returns the running total. It must be called inside a transaction.
var TxnAdd = rpc.ProcedureFunc(func(c *rpc.Call) rpc.Task {
	if c.Txn == nil {
		c.ResultError(api.ErrCodeInvalidArgument)
		return nil
	}
	b, err := param.Parse(c.Body, param.Schema{Integer: 1})
	if err != nil {
		c.Fail(err)
		return nil
	}
	total, _ := c.Txn.State.(uint64)
	total += b.Integer[0]
	c.Txn.State = total
	c.Result(binary.LittleEndian.AppendUint64(nil, total), true)
	return nil
})
