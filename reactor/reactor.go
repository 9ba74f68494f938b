// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral reactor constructors. Platform files provide newPoller
// and newWaker.

package reactor

import "github.com/momentics/hioload-rpc/api"

// Waker interrupts a Poll blocked on the reactor it was registered with.
// Wake is safe to call from any goroutine; Drain is called by the owner after
// the waker token fires.
type Waker interface {
	Wake() error
	Drain() error
	RawFD() uintptr
	Close() error
}

// NewReactor constructs the platform reactor.
func NewReactor() (api.Reactor, error) {
	return newPoller()
}

// NewWaker constructs a waker and registers it on r under token.
func NewWaker(r api.Reactor, token api.Token) (Waker, error) {
	w, err := newWaker()
	if err != nil {
		return nil, err
	}
	if err := r.Register(w.RawFD(), token, api.Readable); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}
