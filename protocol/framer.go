// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Framer: incremental WebSocket message reader/writer over any byte stream.
// Reads are resumable: a source that reports iox.ErrWouldBlock or a read
// deadline suspends the framer without losing partially read headers.

package protocol

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"code.hybscloud.com/iox"
)

var (
	ErrProtocol            = errors.New("websocket protocol violation")
	ErrTimeout             = errors.New("websocket read timed out")
	ErrMessageTooLarge     = errors.New("websocket message exceeds buffer")
	ErrNoMessageInProgress = errors.New("no fragmented message in progress")
	ErrMessageInProgress   = errors.New("fragmented message already in progress")
)

// FramerOption customizes a Framer.
type FramerOption func(*Framer)

// WithMaskedWrites makes the framer mask outbound frames, as a client must.
func WithMaskedWrites() FramerOption {
	return func(f *Framer) { f.maskWrites = true }
}

// Framer reads and writes WebSocket messages on rw.
// After any I/O error other than would-block or timeout, or any protocol
// violation, the framer is poisoned and returns that error forever.
type Framer struct {
	rw         io.ReadWriter
	maskWrites bool

	hdr     [MaxFrameHeaderLen]byte
	hdrLen  int
	inFrame bool
	frame   Frame
	left    uint64 // payload bytes left in the current frame
	seen    uint64 // payload bytes already consumed from the current frame

	fragmented bool // a non-fin data frame was read and the message is open
	msgOpcode  byte

	chunking bool
	wbuf     []byte

	err error
}

// NewFramer wraps rw.
func NewFramer(rw io.ReadWriter, opts ...FramerOption) *Framer {
	f := &Framer{rw: rw}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Err returns the sticky error, if any.
func (f *Framer) Err() error { return f.err }

// MessageOpcode is the opcode of the message currently or most recently read.
func (f *Framer) MessageOpcode() byte { return f.msgOpcode }

// fail records err as sticky unless it is a suspension.
func (f *Framer) fail(err error) error {
	switch {
	case iox.IsWouldBlock(err), errors.Is(err, ErrTimeout):
		return err
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	}
	f.err = err
	return err
}

// readHeader fills f.hdr until a full header is buffered, then decodes it.
func (f *Framer) readHeader() error {
	for {
		need := 2
		if f.hdrLen >= 2 {
			need = headerLen(f.hdr[0], f.hdr[1])
		}
		if f.hdrLen >= need {
			break
		}
		n, err := f.rw.Read(f.hdr[f.hdrLen:need])
		f.hdrLen += n
		if n == 0 && err == nil {
			// a read without progress suspends like a would-block source
			err = iox.ErrWouldBlock
		}
		if err == nil || (n > 0 && f.hdrLen < need && iox.IsWouldBlock(err)) {
			continue
		}
		if f.hdrLen >= need {
			break
		}
		if err == io.EOF {
			if f.hdrLen == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
		return err
	}

	fr, length, err := parseHeader(f.hdr[:f.hdrLen])
	if err != nil {
		return err
	}
	switch fr.Opcode {
	case OpcodeClose:
		return io.EOF
	case OpcodeContinuation:
		if !f.fragmented {
			return fmt.Errorf("%w: continuation frame outside a message", ErrProtocol)
		}
	case OpcodeText, OpcodeBinary:
		if f.fragmented {
			return fmt.Errorf("%w: new message inside a fragmented message", ErrProtocol)
		}
		f.msgOpcode = fr.Opcode
	default:
		return fmt.Errorf("%w: unsupported opcode 0x%x", ErrProtocol, fr.Opcode)
	}
	f.frame = fr
	f.left = length
	f.seen = 0
	f.hdrLen = 0
	f.inFrame = true
	f.fragmented = !fr.Fin
	return nil
}

// ReadSome reads payload bytes of the current message into buf.
// messageEnded reports that the final byte of a message has been returned.
// Frames of a fragmented message are concatenated transparently; an empty
// final frame yields (0, true, nil).
func (f *Framer) ReadSome(buf []byte) (n int, messageEnded bool, err error) {
	if f.err != nil {
		return 0, false, f.err
	}
	for {
		if !f.inFrame {
			if err := f.readHeader(); err != nil {
				return 0, false, f.fail(err)
			}
			if f.left == 0 {
				f.inFrame = false
				if f.frame.Fin {
					return 0, true, nil
				}
				continue
			}
		}
		if len(buf) == 0 {
			return 0, false, nil
		}
		want := buf
		if uint64(len(want)) > f.left {
			want = want[:f.left]
		}
		n, err := f.rw.Read(want)
		if n > 0 {
			if f.frame.Masked {
				MaskBytes(f.frame.MaskKey, f.seen, want[:n])
			}
			f.seen += uint64(n)
			f.left -= uint64(n)
			if f.left == 0 {
				f.inFrame = false
				return n, f.frame.Fin, nil
			}
			return n, false, nil
		}
		if err == nil {
			err = iox.ErrWouldBlock
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, false, f.fail(err)
	}
}

// ReadSomeDeadline is ReadSome that waits for data until deadline.
// Sources with SetReadDeadline are given the deadline directly; would-block
// sources are polled with backoff. On expiry it returns ErrTimeout and the
// framer stays usable.
func (f *Framer) ReadSomeDeadline(buf []byte, deadline time.Time) (int, bool, error) {
	if d, ok := f.rw.(interface{ SetReadDeadline(time.Time) error }); ok {
		if err := d.SetReadDeadline(deadline); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}
	var bo iox.Backoff
	for {
		n, ended, err := f.ReadSome(buf)
		if !iox.IsWouldBlock(err) {
			return n, ended, err
		}
		if !time.Now().Before(deadline) {
			return 0, false, ErrTimeout
		}
		bo.Wait()
	}
}

// ReadSomeTimeout is ReadSomeDeadline relative to now.
func (f *Framer) ReadSomeTimeout(buf []byte, timeout time.Duration) (int, bool, error) {
	return f.ReadSomeDeadline(buf, time.Now().Add(timeout))
}

// ReadMessage reads until the end of the current message. If buf fills first
// it returns ErrMessageTooLarge; the rest of the message is still readable.
// On would-block the bytes read so far are reported in n and the caller
// continues with buf[n:].
func (f *Framer) ReadMessage(buf []byte) (int, error) {
	total := 0
	for {
		if total == len(buf) && total > 0 {
			return total, ErrMessageTooLarge
		}
		n, ended, err := f.ReadSome(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if ended {
			return total, nil
		}
		if n == 0 && len(buf) == 0 {
			return 0, ErrMessageTooLarge
		}
	}
}

// ReadMessageTimeout is ReadMessage bounded by timeout.
func (f *Framer) ReadMessageTimeout(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	total := 0
	for {
		if total == len(buf) && total > 0 {
			return total, ErrMessageTooLarge
		}
		n, ended, err := f.ReadSomeDeadline(buf[total:], deadline)
		total += n
		if err != nil {
			return total, err
		}
		if ended {
			return total, nil
		}
		if n == 0 && len(buf) == 0 {
			return 0, ErrMessageTooLarge
		}
	}
}

// WriteMessage writes payload as a single final frame.
func (f *Framer) WriteMessage(opcode byte, payload []byte) error {
	if f.chunking {
		return ErrMessageInProgress
	}
	return f.writeFrame(true, opcode, payload)
}

// WriteMessageChunk writes a non-final frame. The first chunk of a message
// carries opcode; later chunks are continuation frames.
func (f *Framer) WriteMessageChunk(opcode byte, payload []byte) error {
	if f.chunking {
		opcode = OpcodeContinuation
	}
	if err := f.writeFrame(false, opcode, payload); err != nil {
		return err
	}
	f.chunking = true
	return nil
}

// WriteMessageFinish ends a chunked message with a final continuation frame.
func (f *Framer) WriteMessageFinish(payload []byte) error {
	if !f.chunking {
		return ErrNoMessageInProgress
	}
	if err := f.writeFrame(true, OpcodeContinuation, payload); err != nil {
		return err
	}
	f.chunking = false
	return nil
}

func (f *Framer) writeFrame(fin bool, opcode byte, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	var key *[4]byte
	if f.maskWrites {
		var k [4]byte
		if _, err := rand.Read(k[:]); err != nil {
			return err
		}
		key = &k
	}
	f.wbuf = AppendFrame(f.wbuf[:0], fin, opcode, payload, key)
	written := 0
	for written < len(f.wbuf) {
		n, err := f.rw.Write(f.wbuf[written:])
		written += n
		if err != nil {
			if written == 0 && iox.IsWouldBlock(err) {
				return err
			}
			f.err = err
			return err
		}
		if n == 0 {
			f.err = io.ErrShortWrite
			return f.err
		}
	}
	return nil
}
