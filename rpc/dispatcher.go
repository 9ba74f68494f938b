// File: rpc/dispatcher.go
// Author: momentics <momentics@gmail.com>
//
// Per-connection stream dispatcher. Owned by one worker goroutine.

package rpc

import (
	"encoding/binary"

	"github.com/momentics/hioload-rpc/api"
	"github.com/rs/zerolog"
)

// Sink receives encoded responses for the connection.
type Sink interface {
	Send(r Response) error
}

// Spawner schedules suspended tasks on the owning worker.
type Spawner interface {
	// Reserve allocates a TaskID before the procedure runs, so the
	// procedure can hand out a waker during Invoke.
	Reserve() TaskID
	// Attach binds a reserved id to the task that Invoke returned.
	Attach(id TaskID, t Task, c *Call)
	// Release frees id; later wakes for it are ignored.
	Release(id TaskID)
	// Waker returns a goroutine-safe function that wakes id.
	Waker(id TaskID) func()
}

// stream is the accumulation record of one in-flight stream.
type stream struct {
	id    uint64
	call  *Call
	entry *ProcedureEntry
	buf   []byte
	txn   *Txn

	task    Task
	taskID  TaskID
	hasTask bool

	lastSeen  bool
	completed bool
	txnFinal  bool
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for rejected streams.
func WithLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// WithMaxTransactions bounds the transactions one connection may hold open.
// Zero means unlimited.
func WithMaxTransactions(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxTxns = n }
}

// Dispatcher routes packets of one connection to procedures.
type Dispatcher struct {
	conn    *Connection
	db      DB
	thread  uint32
	sink    Sink
	spawner Spawner
	log     zerolog.Logger

	streams    map[uint64]*stream
	txns       map[uint64]*Txn
	nextHandle uint64
	maxTxns    int
	closed     bool

	rejected uint64
	stray    uint64
}

// NewDispatcher creates a dispatcher for conn running on worker thread.
func NewDispatcher(conn *Connection, db DB, thread uint32, sink Sink, sp Spawner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		conn:    conn,
		db:      db,
		thread:  thread,
		sink:    sink,
		spawner: sp,
		log:     zerolog.Nop(),
		streams: make(map[uint64]*stream),
		txns:    make(map[uint64]*Txn),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// OpenStreams is the number of live accumulation records.
func (d *Dispatcher) OpenStreams() int { return len(d.streams) }

// OpenTransactions is the number of transactions awaiting continuation.
func (d *Dispatcher) OpenTransactions() int { return len(d.txns) }

// Rejected counts streams refused for structural errors.
func (d *Dispatcher) Rejected() uint64 { return d.rejected }

// Stray counts packets dropped because their stream had already received
// its last packet.
func (d *Dispatcher) Stray() uint64 { return d.stray }

// HandlePacket feeds one packet of stream id. The dispatcher and the
// procedures it calls may keep chunk; callers must not reuse it.
// Structural errors are reported on the stream and never affect others.
func (d *Dispatcher) HandlePacket(id uint64, chunk []byte, last bool) {
	if d.closed {
		return
	}
	rec, ok := d.streams[id]
	if !ok {
		d.begin(id, chunk, last)
		return
	}
	if rec.lastSeen {
		// the stream is still finishing; it never takes more input
		d.stray++
		d.log.Debug().Uint64("stream", id).Uint64("conn", d.conn.ID).Msg("packet after last dropped")
		return
	}
	if last {
		rec.lastSeen = true
	}
	switch {
	case rec.completed:
		// rejected or finished early: swallow until the last packet
	case rec.entry.Streaming:
		rec.call.Body, rec.call.Last = chunk, last
		if rec.hasTask {
			if f, ok := rec.task.(Feeder); ok {
				f.Feed(rec.call, chunk, last)
			}
			d.spawner.Waker(rec.taskID)()
		}
	default:
		rec.buf = append(rec.buf, chunk...)
		if last {
			d.invoke(rec, rec.buf)
		}
	}
	d.maybeRelease(rec)
}

func (d *Dispatcher) begin(id uint64, chunk []byte, last bool) {
	rec := &stream{id: id, lastSeen: last}
	rec.call = &Call{DB: d.db, Thread: d.thread, Conn: d.conn, Stream: id, d: d, rec: rec}
	d.streams[id] = rec

	h, err := ParseHeader(chunk)
	if err != nil {
		d.reject(rec, err)
		return
	}
	rec.call.Header = h
	env, entry, err := d.db.Procedures().Resolve(d.conn.Environments, h)
	if err != nil {
		d.reject(rec, err)
		return
	}
	body := chunk[HeaderSize:]
	if h.Flags&FlagHandle != 0 {
		if len(body) < 8 {
			d.reject(rec, ErrBadHandle)
			return
		}
		handle := binary.LittleEndian.Uint64(body)
		body = body[8:]
		txn, ok := d.txns[handle&^1]
		if handle&1 == 0 || !ok {
			d.reject(rec, ErrBadHandle)
			return
		}
		rec.txn = txn
		rec.txnFinal = h.Flags&FlagTransaction == 0
	} else if h.Flags&FlagTransaction != 0 {
		if d.maxTxns > 0 && len(d.txns) >= d.maxTxns {
			d.reject(rec, ErrTooManyTxns)
			return
		}
		d.nextHandle += 2
		rec.txn = &Txn{Handle: d.nextHandle}
		d.txns[rec.txn.Handle] = rec.txn
	}
	if rec.txn != nil {
		rec.txn.Statements++
	}
	rec.entry = entry
	rec.call.Env = env
	if entry.Streaming || last {
		d.invoke(rec, body)
	} else {
		rec.buf = append([]byte(nil), body...)
	}
	d.maybeRelease(rec)
}

func (d *Dispatcher) invoke(rec *stream, body []byte) {
	c := rec.call
	c.Body, c.Last, c.Txn = body, rec.lastSeen, rec.txn
	rec.buf = nil
	id := d.spawner.Reserve()
	c.Task = id
	task := rec.entry.Proc.Invoke(c)
	if task == nil || rec.completed || d.closed {
		d.spawner.Release(id)
		if !rec.completed && !d.closed {
			c.Result(nil, true)
		}
		return
	}
	rec.task, rec.taskID, rec.hasTask = task, id, true
	d.spawner.Attach(id, task, c)
}

func (d *Dispatcher) reject(rec *stream, err error) {
	d.rejected++
	d.log.Debug().Err(err).Uint64("stream", rec.id).Uint64("conn", d.conn.ID).Msg("stream rejected")
	d.sendError(rec, api.CodeOf(err))
	d.complete(rec)
}

func (d *Dispatcher) sendError(rec *stream, code api.ErrorCode) error {
	r := Response{Stream: rec.id, Status: StatusComplete | StatusError, Body: errorBody(code)}
	if rec.txn != nil {
		r.Status |= StatusHandle
		r.Handle = rec.txn.Handle
	}
	return d.sink.Send(r)
}

func (d *Dispatcher) complete(rec *stream) {
	rec.completed = true
	d.maybeRelease(rec)
}

// taskFinished releases id, the slot of the task that just finished.
func (d *Dispatcher) taskFinished(rec *stream, id TaskID) {
	d.spawner.Release(id)
	if !rec.hasTask || rec.taskID != id {
		return
	}
	rec.hasTask = false
	if !rec.completed {
		rec.call.Result(nil, true)
		return
	}
	d.maybeRelease(rec)
}

// maybeRelease drops a record once it is finished, fully received and idle.
// The stream id may then be reused for a new stream.
func (d *Dispatcher) maybeRelease(rec *stream) {
	if !rec.completed || !rec.lastSeen || rec.hasTask {
		return
	}
	if d.streams[rec.id] == rec {
		delete(d.streams, rec.id)
	}
	if rec.txnFinal && rec.txn != nil {
		delete(d.txns, rec.txn.Handle)
	}
}

// Close releases every record and outstanding task. It returns the number
// of streams that were still open.
func (d *Dispatcher) Close() int {
	if d.closed {
		return 0
	}
	d.closed = true
	n := len(d.streams)
	for id, rec := range d.streams {
		if rec.hasTask {
			rec.hasTask = false
			d.spawner.Release(rec.taskID)
		}
		delete(d.streams, id)
	}
	for h := range d.txns {
		delete(d.txns, h)
	}
	return n
}
