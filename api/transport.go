// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the non-blocking transport abstraction consumed by workers.

package api

// TransportKind tells a connection's stream semantics apart.
type TransportKind uint8

const (
	TransportStream TransportKind = iota
	TransportDatagram
)

func (k TransportKind) String() string {
	if k == TransportDatagram {
		return "datagram"
	}
	return "stream"
}

// NetConn abstracts a full-duplex non-blocking connection.
// Read and Write return iox.ErrWouldBlock instead of blocking;
// Read returns io.EOF once the peer has closed its side.
type NetConn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	// RawFD returns the descriptor used for reactor registration.
	RawFD() uintptr

	// RemoteAddr is informational, used for logging and authorization.
	RemoteAddr() string
}

// Listener accepts NetConns without blocking.
// Accept returns iox.ErrWouldBlock when the backlog is drained.
type Listener interface {
	Accept() (NetConn, error)
	Close() error
	RawFD() uintptr
	Addr() string
}
