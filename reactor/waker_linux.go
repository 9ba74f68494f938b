//go:build linux

// File: reactor/waker_linux.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// eventfdWaker counts pending wakes in an eventfd; one read clears them all.
type eventfdWaker struct {
	fd int
}

func newWaker() (Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &eventfdWaker{fd: fd}, nil
}

func (w *eventfdWaker) Wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(w.fd, one[:])
	if err == unix.EAGAIN {
		// counter saturated; a wake is already pending
		return nil
	}
	return err
}

func (w *eventfdWaker) Drain() error {
	var buf [8]byte
	_, err := unix.Read(w.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (w *eventfdWaker) RawFD() uintptr { return uintptr(w.fd) }

func (w *eventfdWaker) Close() error { return unix.Close(w.fd) }
