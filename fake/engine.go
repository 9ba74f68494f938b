// File: fake/engine.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"bytes"
	"errors"
	"io"

	"code.hybscloud.com/iox"
)

var ErrBadHello = errors.New("fake engine: unexpected handshake bytes")

// Engine is a pass-through TLS engine. The handshake completes when Hello
// arrives, answered with Reply; afterwards bytes pass through unchanged.
type Engine struct {
	Hello      []byte
	Reply      []byte
	ProcessErr error
	// Hold keeps written plaintext back until ReleaseHeld, like an engine
	// that encrypts on another goroutine.
	Hold bool

	in, plain, out []byte
	held           []byte
	handshaking    bool
	closed         bool
}

// NewEngine returns an engine that needs hello before it is established.
// An empty hello starts established.
func NewEngine(hello, reply string) *Engine {
	return &Engine{Hello: []byte(hello), Reply: []byte(reply), handshaking: hello != ""}
}

func (e *Engine) ReadTLS(r io.Reader) (int, error) {
	var buf [4096]byte
	n, err := r.Read(buf[:])
	if n > 0 {
		e.in = append(e.in, buf[:n]...)
		return n, nil
	}
	if err == io.EOF {
		return 0, nil
	}
	if err == nil {
		return 0, iox.ErrWouldBlock
	}
	return 0, err
}

func (e *Engine) ProcessNewPackets() error {
	if e.ProcessErr != nil {
		return e.ProcessErr
	}
	if e.handshaking {
		if len(e.in) < len(e.Hello) {
			return nil
		}
		if !bytes.Equal(e.in[:len(e.Hello)], e.Hello) {
			return ErrBadHello
		}
		e.in = e.in[len(e.Hello):]
		e.handshaking = false
		e.out = append(e.out, e.Reply...)
	}
	e.plain = append(e.plain, e.in...)
	e.in = e.in[:0]
	return nil
}

func (e *Engine) WriteTLS(w io.Writer) (int, error) {
	if len(e.out) == 0 {
		return 0, nil
	}
	n, err := w.Write(e.out)
	e.out = e.out[n:]
	return n, err
}

func (e *Engine) WantsRead() bool     { return !e.closed }
func (e *Engine) WantsWrite() bool    { return len(e.out) > 0 }
func (e *Engine) IsHandshaking() bool { return e.handshaking }

func (e *Engine) Read(p []byte) (int, error) {
	if len(e.plain) == 0 {
		return 0, iox.ErrWouldBlock
	}
	n := copy(p, e.plain)
	e.plain = e.plain[n:]
	return n, nil
}

func (e *Engine) Write(p []byte) (int, error) {
	if e.Hold {
		e.held = append(e.held, p...)
		return len(p), nil
	}
	e.out = append(e.out, p...)
	return len(p), nil
}

// Flushed reports that no written bytes are held back.
func (e *Engine) Flushed() bool { return len(e.held) == 0 }

// ReleaseHeld moves held bytes to the ciphertext side.
func (e *Engine) ReleaseHeld() {
	e.out = append(e.out, e.held...)
	e.held = nil
}

func (e *Engine) Close() error {
	e.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (e *Engine) IsClosed() bool { return e.closed }
