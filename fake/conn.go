// File: fake/conn.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"bytes"
	"io"
	"sync"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-rpc/api"
)

// Conn is an in-memory api.NetConn. Reads would-block until bytes are fed.
type Conn struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	eof    bool
	closed bool
	fd     uintptr
	remote string
}

func NewConn(fd uintptr) *Conn {
	return &Conn{fd: fd, remote: "fake:0"}
}

// Feed appends bytes for the next Reads.
func (c *Conn) Feed(p []byte) {
	c.mu.Lock()
	c.in.Write(p)
	c.mu.Unlock()
}

// Hangup makes Read return io.EOF once fed bytes are consumed.
func (c *Conn) Hangup() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
}

// Output drains everything written so far.
func (c *Conn) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := append([]byte(nil), c.out.Bytes()...)
	c.out.Reset()
	return b
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	if c.in.Len() == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, iox.ErrWouldBlock
	}
	return c.in.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, api.ErrTransportClosed
	}
	return c.out.Write(p)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) RawFD() uintptr     { return c.fd }
func (c *Conn) RemoteAddr() string { return c.remote }

// Listener hands out queued connections.
type Listener struct {
	mu      sync.Mutex
	pending []api.NetConn
	// Err, when set, is returned once the queue is empty.
	Err    error
	fd     uintptr
	closed bool
}

func NewListener(fd uintptr) *Listener { return &Listener{fd: fd} }

func (l *Listener) Push(c api.NetConn) {
	l.mu.Lock()
	l.pending = append(l.pending, c)
	l.mu.Unlock()
}

func (l *Listener) Accept() (api.NetConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		if l.Err != nil {
			return nil, l.Err
		}
		return nil, iox.ErrWouldBlock
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *Listener) RawFD() uintptr { return l.fd }
func (l *Listener) Addr() string   { return "fake:listener" }

var (
	_ api.NetConn  = (*Conn)(nil)
	_ api.Listener = (*Listener)(nil)
)
