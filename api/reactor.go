// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness-driven IO Reactors.
// A worker owns exactly one Reactor; nothing here is safe for use from
// more than one goroutine unless an implementation says otherwise.

package api

import "time"

// Token identifies a registered source. The worker maps tokens onto its
// listener, its waker and its connection slots.
type Token uint64

// Interest is the set of readiness kinds a source is registered for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Has reports whether all bits of o are set.
func (i Interest) Has(o Interest) bool { return i&o == o }

func (i Interest) String() string {
	switch i {
	case 0:
		return "none"
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	}
	return "invalid"
}

// Event encapsulates the result of an OS-level readiness notification.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	Hangup   bool // peer hung up or the descriptor is in error state
}

// Reactor defines the common interface for an event-loop backend.
type Reactor interface {
	// Register associates fd with token for the given interest.
	Register(fd uintptr, token Token, interest Interest) error

	// Reregister replaces the interest of an already registered fd.
	Reregister(fd uintptr, token Token, interest Interest) error

	// Deregister removes fd from the poller.
	Deregister(fd uintptr) error

	// Poll blocks up to timeout (negative blocks indefinitely) and fills events.
	// An interrupted wait returns (0, nil).
	Poll(events []Event, timeout time.Duration) (int, error)

	// Close releases the poller.
	Close() error
}
