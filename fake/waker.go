// File: fake/waker.go
// Author: momentics <momentics@gmail.com>

package fake

import "sync"

// Waker counts wakes instead of signalling an fd.
type Waker struct {
	mu      sync.Mutex
	pending int
	total   int
	fd      uintptr
	closed  bool
}

func NewWaker(fd uintptr) *Waker { return &Waker{fd: fd} }

func (w *Waker) Wake() error {
	w.mu.Lock()
	w.pending++
	w.total++
	w.mu.Unlock()
	return nil
}

func (w *Waker) Drain() error {
	w.mu.Lock()
	w.pending = 0
	w.mu.Unlock()
	return nil
}

// Total is the number of Wake calls so far.
func (w *Waker) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

func (w *Waker) RawFD() uintptr { return w.fd }

func (w *Waker) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}
