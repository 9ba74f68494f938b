// File: internal/session/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"errors"
	"io"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-rpc/api"
)

// State of a TLS session.
type State uint8

const (
	Handshaking State = iota
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	}
	return "closed"
}

// Outcome tells the worker what to do with the connection after Ready.
type Outcome uint8

const (
	Keep Outcome = iota
	Close
)

// Engine is a sans-IO TLS engine: ciphertext is moved in and out explicitly
// and plaintext is exchanged through Read and Write.
type Engine interface {
	// ReadTLS pulls ciphertext from r. A clean end of stream is (0, nil).
	ReadTLS(r io.Reader) (int, error)
	// ProcessNewPackets advances the protocol over buffered ciphertext.
	ProcessNewPackets() error
	// WriteTLS pushes pending ciphertext to w.
	WriteTLS(w io.Writer) (int, error)

	WantsRead() bool
	WantsWrite() bool
	IsHandshaking() bool

	// Read returns decrypted bytes, iox.ErrWouldBlock when none are buffered.
	Read(p []byte) (int, error)
	// Write queues plaintext for encryption.
	Write(p []byte) (int, error)
	Close() error
}

// Flusher is implemented by engines that encrypt written plaintext off the
// worker goroutine. Flushed reports that nothing written is still waiting
// to become ciphertext.
type Flusher interface {
	Flushed() bool
}

// DeliverFunc consumes decrypted bytes. A non-nil error closes the session.
// The slice is only valid during the call.
type DeliverFunc func(p []byte) error

// Session drives one connection's TLS state machine.
type Session struct {
	tr    api.NetConn
	eng   Engine
	state State
	buf   []byte
	err   error
}

// New wraps tr and eng. bufSize bounds each plaintext delivery.
func New(tr api.NetConn, eng Engine, bufSize int) *Session {
	if bufSize <= 0 {
		bufSize = 16 << 10
	}
	return &Session{tr: tr, eng: eng, buf: make([]byte, bufSize)}
}

func (s *Session) State() State { return s.state }

// Err is the reason the session closed, nil while open or after a clean close.
func (s *Session) Err() error { return s.err }

// Ready handles a readiness event for the transport.
//
// Readable (or hung up): ciphertext is pulled first. End of stream closes the
// session; would-block on a readable-only event keeps it unchanged. The
// remaining steps are those of Pump.
func (s *Session) Ready(ev api.Event, deliver DeliverFunc) Outcome {
	if s.state == Closed {
		return Close
	}
	if ev.Readable || ev.Hangup {
		n, err := s.eng.ReadTLS(s.tr)
		switch {
		case err == nil && n == 0:
			return s.fail(nil)
		case iox.IsWouldBlock(err):
			if !ev.Writable {
				return Keep
			}
		case err != nil:
			return s.fail(err)
		}
	}
	return s.Pump(deliver)
}

// Pump processes buffered ciphertext, flushes pending output and, once the
// handshake is done, delivers all available plaintext. Workers call it for
// writable-only events and when the engine reports progress.
func (s *Session) Pump(deliver DeliverFunc) Outcome {
	if s.state == Closed {
		return Close
	}
	if err := s.eng.ProcessNewPackets(); err != nil {
		return s.fail(err)
	}
	if err := s.flush(); err != nil {
		return s.fail(err)
	}
	if s.eng.IsHandshaking() {
		return Keep
	}
	s.state = Established
	for {
		n, err := s.eng.Read(s.buf)
		if n > 0 {
			if derr := deliver(s.buf[:n]); derr != nil {
				return s.fail(derr)
			}
		}
		if err != nil {
			if iox.IsWouldBlock(err) {
				break
			}
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return s.fail(err)
		}
		if n == 0 {
			break
		}
	}
	// deliver may have produced output for synchronous engines
	if s.eng.WantsWrite() {
		if err := s.flush(); err != nil {
			return s.fail(err)
		}
	}
	return Keep
}

func (s *Session) flush() error {
	if _, err := s.eng.WriteTLS(s.tr); err != nil && !iox.IsWouldBlock(err) {
		return err
	}
	return nil
}

// Write queues plaintext for the peer.
func (s *Session) Write(p []byte) (int, error) {
	if s.state == Closed {
		return 0, api.ErrTransportClosed
	}
	return s.eng.Write(p)
}

// Interest is the reactor interest the session needs right now.
func (s *Session) Interest() api.Interest {
	var i api.Interest
	if s.eng == nil {
		return i
	}
	if s.eng.WantsRead() {
		i |= api.Readable
	}
	if s.eng.WantsWrite() {
		i |= api.Writable
	}
	return i
}

// Flushed reports that every byte written to the session has reached the
// transport. A closed session is flushed.
func (s *Session) Flushed() bool {
	if s.eng == nil || s.state == Closed {
		return true
	}
	if f, ok := s.eng.(Flusher); ok && !f.Flushed() {
		return false
	}
	return !s.eng.WantsWrite()
}

// Close releases the engine and the transport. Safe to call more than once.
func (s *Session) Close() error {
	if s.state == Closed && s.eng == nil {
		return nil
	}
	s.state = Closed
	var err error
	if s.eng != nil {
		err = s.eng.Close()
		s.eng = nil
	}
	if cerr := s.tr.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) fail(err error) Outcome {
	s.state = Closed
	s.err = err
	return Close
}
