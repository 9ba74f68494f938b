// File: internal/session/stdengine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine backed by crypto/tls. The blocking tls.Conn runs on two helper
// goroutines over an in-memory net.Conn; ciphertext and plaintext cross
// between them and the worker through bounded SPSC queues, so the worker
// itself never blocks.

package session

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/eapache/queue"
	"github.com/momentics/hioload-rpc/pool"
)

const (
	engineQueueDepth = 64
	plainChunkSize   = 16 << 10
)

// EngineFactory builds an Engine for a new connection. wake must be called
// whenever the engine makes progress the worker has not asked for.
type EngineFactory func(wake func()) (Engine, error)

// StdEngineFactory returns a factory producing StdEngines for cfg.
func StdEngineFactory(cfg *tls.Config, bufs *pool.BytePool) EngineFactory {
	return func(wake func()) (Engine, error) {
		return NewStdEngine(cfg, wake, bufs), nil
	}
}

// StdEngine adapts crypto/tls to the Engine contract.
type StdEngine struct {
	wake func()
	bufs *pool.BytePool
	conn *tls.Conn

	// worker -> tls reader: ciphertext
	cipherIn lfq.SPSC[[]byte]
	inSignal chan struct{}
	stalled  atomix.Uint32

	// tls -> worker: ciphertext
	cipherOut lfq.SPSC[[]byte]

	// tls reader -> worker: plaintext
	plainIn lfq.SPSC[[]byte]

	// worker -> tls writer: plaintext, unbounded so framed writes never split
	outMu     sync.Mutex
	plainOut  *queue.Queue
	outSignal chan struct{}
	queued    atomix.Uint32

	handshook atomix.Uint32
	dead      atomix.Uint32
	errMu     sync.Mutex
	err       error

	done      chan struct{}
	closeOnce sync.Once

	// worker-side state
	heldIn    []byte
	outHead   []byte
	plainHead []byte
}

// NewStdEngine starts a server-side TLS engine. bufs may be nil.
func NewStdEngine(cfg *tls.Config, wake func(), bufs *pool.BytePool) *StdEngine {
	if bufs == nil {
		bufs = pool.NewBytePool(plainChunkSize)
	}
	if wake == nil {
		wake = func() {}
	}
	e := &StdEngine{
		wake:      wake,
		bufs:      bufs,
		inSignal:  make(chan struct{}, 1),
		outSignal: make(chan struct{}, 1),
		plainOut:  queue.New(),
		done:      make(chan struct{}),
	}
	e.cipherIn.Init(engineQueueDepth)
	e.cipherOut.Init(engineQueueDepth)
	e.plainIn.Init(engineQueueDepth)
	e.conn = tls.Server(&memConn{e: e}, cfg)
	go e.readLoop()
	go e.writeLoop()
	return e
}

func (e *StdEngine) ReadTLS(r io.Reader) (int, error) {
	if e.dead.Load() != 0 {
		return 0, e.terminal()
	}
	if e.heldIn != nil && !e.pushIn() {
		return 0, iox.ErrWouldBlock
	}
	buf := e.bufs.GetBuffer()
	n, err := r.Read(buf)
	if n > 0 {
		e.heldIn = buf[:n]
		e.pushIn()
		return n, nil
	}
	e.bufs.PutBuffer(buf)
	switch {
	case err == io.EOF:
		return 0, nil
	case err == nil:
		return 0, iox.ErrWouldBlock
	}
	return 0, err
}

// pushIn hands heldIn to the tls reader. When the queue is full it leaves a
// stall mark so the reader wakes the worker after it frees a slot.
func (e *StdEngine) pushIn() bool {
	if err := e.cipherIn.Enqueue(&e.heldIn); err != nil {
		e.stalled.Store(1)
		if err := e.cipherIn.Enqueue(&e.heldIn); err != nil {
			return false
		}
	}
	e.heldIn = nil
	signal(e.inSignal)
	return true
}

func (e *StdEngine) ProcessNewPackets() error {
	if e.dead.Load() != 0 && e.handshook.Load() == 0 {
		return e.terminal()
	}
	return nil
}

func (e *StdEngine) WriteTLS(w io.Writer) (int, error) {
	total := 0
	for {
		if len(e.outHead) == 0 {
			chunk, err := e.cipherOut.Dequeue()
			if err != nil {
				return total, nil
			}
			e.outHead = chunk
		}
		n, err := w.Write(e.outHead)
		total += n
		e.outHead = e.outHead[n:]
		if err != nil {
			return total, err
		}
	}
}

// WantsRead retries a stalled hand-off so read interest comes back once the
// tls reader has drained its queue.
func (e *StdEngine) WantsRead() bool {
	if e.dead.Load() != 0 {
		return false
	}
	return e.heldIn == nil || e.pushIn()
}

func (e *StdEngine) WantsWrite() bool {
	if len(e.outHead) > 0 {
		return true
	}
	chunk, err := e.cipherOut.Dequeue()
	if err != nil {
		return false
	}
	e.outHead = chunk
	return true
}

func (e *StdEngine) IsHandshaking() bool { return e.handshook.Load() == 0 }

func (e *StdEngine) Read(p []byte) (int, error) {
	for {
		if len(e.plainHead) > 0 {
			n := copy(p, e.plainHead)
			e.plainHead = e.plainHead[n:]
			return n, nil
		}
		chunk, err := e.plainIn.Dequeue()
		if err == nil {
			e.plainHead = chunk
			continue
		}
		if e.dead.Load() == 0 {
			return 0, iox.ErrWouldBlock
		}
		// the reader enqueues before it marks itself dead
		if chunk, err = e.plainIn.Dequeue(); err == nil {
			e.plainHead = chunk
			continue
		}
		return 0, e.terminal()
	}
}

func (e *StdEngine) Write(p []byte) (int, error) {
	if e.dead.Load() != 0 {
		return 0, e.terminal()
	}
	chunk := append([]byte(nil), p...)
	e.queued.Add(1)
	e.outMu.Lock()
	e.plainOut.Add(chunk)
	e.outMu.Unlock()
	signal(e.outSignal)
	return len(p), nil
}

// Flushed reports that all written plaintext has been encrypted. A dead
// engine never will, so it counts as flushed.
func (e *StdEngine) Flushed() bool {
	return e.dead.Load() != 0 || e.queued.Load() == 0
}

func (e *StdEngine) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}

func (e *StdEngine) readLoop() {
	defer e.wake()
	if err := e.conn.Handshake(); err != nil {
		e.die(err)
		return
	}
	e.handshook.Store(1)
	e.wake()
	for {
		buf := make([]byte, plainChunkSize)
		n, err := e.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if !e.enqueueBlocking(&e.plainIn, &chunk) {
				return
			}
			e.wake()
		}
		if err != nil {
			e.die(err)
			return
		}
	}
}

func (e *StdEngine) writeLoop() {
	for {
		select {
		case <-e.outSignal:
		case <-e.done:
			return
		}
		for {
			e.outMu.Lock()
			if e.plainOut.Length() == 0 {
				e.outMu.Unlock()
				break
			}
			p := e.plainOut.Remove().([]byte)
			e.outMu.Unlock()
			if _, err := e.conn.Write(p); err != nil {
				e.die(err)
				e.wake()
				return
			}
			// the ciphertext is queued; tell a worker waiting to close
			if e.queued.Add(^uint32(0)) == 0 {
				e.wake()
			}
		}
	}
}

// enqueueBlocking retries with backoff until q accepts v or the engine closes.
func (e *StdEngine) enqueueBlocking(q *lfq.SPSC[[]byte], v *[]byte) bool {
	var bo iox.Backoff
	for {
		if err := q.Enqueue(v); err == nil {
			return true
		}
		select {
		case <-e.done:
			return false
		default:
		}
		e.wake()
		bo.Wait()
	}
}

func (e *StdEngine) die(err error) {
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()
	e.dead.Store(1)
}

// terminal is the error reported once the engine is dead. A clean TLS
// close is io.EOF.
func (e *StdEngine) terminal() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.err == nil || errors.Is(e.err, io.EOF) {
		return io.EOF
	}
	return e.err
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// memConn is the net.Conn the tls.Conn sees.
type memConn struct {
	e    *StdEngine
	cur  []byte
	base []byte
}

func (m *memConn) Read(p []byte) (int, error) {
	e := m.e
	for {
		if len(m.cur) > 0 {
			n := copy(p, m.cur)
			m.cur = m.cur[n:]
			if len(m.cur) == 0 {
				e.bufs.PutBuffer(m.base)
				m.base = nil
			}
			return n, nil
		}
		chunk, err := e.cipherIn.Dequeue()
		if err == nil {
			m.cur, m.base = chunk, chunk
			if e.stalled.Load() != 0 {
				e.stalled.Store(0)
				e.wake()
			}
			continue
		}
		select {
		case <-e.inSignal:
		case <-e.done:
			return 0, net.ErrClosed
		}
	}
}

func (m *memConn) Write(p []byte) (int, error) {
	chunk := append([]byte(nil), p...)
	if !m.e.enqueueBlocking(&m.e.cipherOut, &chunk) {
		return 0, net.ErrClosed
	}
	m.e.wake()
	return len(p), nil
}

func (m *memConn) Close() error {
	m.e.Close()
	return nil
}

func (m *memConn) LocalAddr() net.Addr                { return memAddr{} }
func (m *memConn) RemoteAddr() net.Addr               { return memAddr{} }
func (m *memConn) SetDeadline(t time.Time) error      { return nil }
func (m *memConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *memConn) SetWriteDeadline(t time.Time) error { return nil }

type memAddr struct{}

func (memAddr) Network() string { return "mem" }
func (memAddr) String() string  { return "mem" }

var (
	_ Engine  = (*StdEngine)(nil)
	_ Flusher = (*StdEngine)(nil)
)
