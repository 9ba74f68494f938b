// File: rpc/procedure.go
// Author: momentics <momentics@gmail.com>
//
// Procedure calling convention.

package rpc

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-rpc/api"
)

var ErrStreamDone = errors.New("rpc stream already completed")

// Procedure is a registered callable. Invoke runs on the worker goroutine;
// a nil Task means the procedure finished synchronously.
type Procedure interface {
	Invoke(c *Call) Task
}

// ProcedureFunc adapts a function to Procedure.
type ProcedureFunc func(c *Call) Task

func (f ProcedureFunc) Invoke(c *Call) Task { return f(c) }

// Task is a suspended computation. Poll runs on the owning worker after a
// wake and reports whether the task is finished.
type Task interface {
	Poll(c *Call) bool
}

// TaskFunc adapts a function to Task.
type TaskFunc func(c *Call) bool

func (f TaskFunc) Poll(c *Call) bool { return f(c) }

// Feeder is implemented by tasks of streaming procedures to receive the
// packets that follow the first one. The task is woken after each Feed.
type Feeder interface {
	Feed(c *Call, body []byte, last bool)
}

// TaskID addresses a task across goroutines: the owning worker, a slot in
// its task table and the slot generation.
type TaskID struct {
	Thread uint32
	Slot   uint32
	Gen    uint32
}

func (id TaskID) String() string {
	return fmt.Sprintf("task(%d/%d#%d)", id.Thread, id.Slot, id.Gen)
}

// DB is the shared server state visible to procedures.
type DB interface {
	Procedures() *ProcedureTable
	Blobs() api.BlobStore
}

// Connection is the authenticated identity a dispatcher works for.
type Connection struct {
	ID   uint64
	Kind api.TransportKind
	User uint32
	// Environments maps local environment handles to global indexes.
	Environments []uint32
	Remote       string
}

// Txn is a transaction continued across streams of one connection.
type Txn struct {
	Handle     uint64
	Statements int
	// State is free for procedures to keep per-transaction data.
	State any
}

// Call is the context of one stream's invocation.
type Call struct {
	Env    *Environment
	DB     DB
	Thread uint32
	Conn   *Connection
	Stream uint64
	Header Header
	// Body is the request payload after the header (and handle). Streaming
	// procedures see the first packet here and receive the rest via Feeder.
	Body []byte
	Last bool
	Txn  *Txn
	Task TaskID

	d   *Dispatcher
	rec *stream
}

// Result sends body on the stream. complete ends the stream.
func (c *Call) Result(body []byte, complete bool) error {
	d, rec := c.d, c.rec
	if d.closed {
		return api.ErrTransportClosed
	}
	if rec.completed {
		return ErrStreamDone
	}
	r := Response{Stream: rec.id, Body: body}
	if complete {
		r.Status |= StatusComplete
	}
	if rec.txn != nil {
		r.Status |= StatusHandle
		r.Handle = rec.txn.Handle
	}
	err := d.sink.Send(r)
	if complete {
		d.complete(rec)
	}
	return err
}

// ResultError ends the stream with an error code.
func (c *Call) ResultError(code api.ErrorCode) error {
	d, rec := c.d, c.rec
	if d.closed {
		return api.ErrTransportClosed
	}
	if rec.completed {
		return ErrStreamDone
	}
	err := d.sendError(rec, code)
	d.complete(rec)
	return err
}

// Fail is ResultError with the code derived from err.
func (c *Call) Fail(err error) error {
	return c.ResultError(api.CodeOf(err))
}

// Done reports that the stream is finished or its connection is gone.
func (c *Call) Done() bool { return c.d.closed || c.rec.completed }

// Waker returns a function that reschedules this call's task on its worker.
// It is safe to call from any goroutine, any number of times.
func (c *Call) Waker() func() { return c.d.spawner.Waker(c.Task) }

// PollTask polls t for c and does the stream bookkeeping when it finishes.
// Tasks of closed connections are reported finished without being polled.
func PollTask(t Task, c *Call) bool {
	if c.d.closed {
		return true
	}
	if !t.Poll(c) {
		return false
	}
	c.d.taskFinished(c.rec, c.Task)
	return true
}
