// File: fake/reactor.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-rpc/api"
)

// Registration is the interest recorded for one fd.
type Registration struct {
	Token    api.Token
	Interest api.Interest
}

// Reactor records registrations and returns events pushed by the test.
// Poll never blocks.
type Reactor struct {
	mu      sync.Mutex
	regs    map[uintptr]Registration
	pending []api.Event
	closed  bool

	// FailReregister, when set, is returned by Reregister.
	FailReregister error
}

func NewReactor() *Reactor {
	return &Reactor{regs: make(map[uintptr]Registration)}
}

// Push queues events for the next Poll.
func (r *Reactor) Push(evs ...api.Event) {
	r.mu.Lock()
	r.pending = append(r.pending, evs...)
	r.mu.Unlock()
}

// Lookup returns the registration of fd.
func (r *Reactor) Lookup(fd uintptr) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[fd]
	return reg, ok
}

// Len is the number of registered fds.
func (r *Reactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

func (r *Reactor) Register(fd uintptr, token api.Token, interest api.Interest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[fd]; ok {
		return api.ErrAlreadyExists
	}
	r.regs[fd] = Registration{Token: token, Interest: interest}
	return nil
}

func (r *Reactor) Reregister(fd uintptr, token api.Token, interest api.Interest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailReregister != nil {
		return r.FailReregister
	}
	if _, ok := r.regs[fd]; !ok {
		return api.ErrNotFound
	}
	r.regs[fd] = Registration{Token: token, Interest: interest}
	return nil
}

func (r *Reactor) Deregister(fd uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[fd]; !ok {
		return api.ErrNotFound
	}
	delete(r.regs, fd)
	return nil
}

func (r *Reactor) Poll(events []api.Event, _ time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(events, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *Reactor) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

var _ api.Reactor = (*Reactor)(nil)
