//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor. Level-triggered: a source stays ready until
// drained, so the worker may stop early in a batch without losing events.

package reactor

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-rpc/api"
	"golang.org/x/sys/unix"
)

type epollReactor struct {
	epfd int
	raw  []unix.EpollEvent
}

func newPoller() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollReactor{epfd: epfd}, nil
}

func epollEvent(token api.Token, interest api.Interest) *unix.EpollEvent {
	ev := &unix.EpollEvent{Events: unix.EPOLLRDHUP}
	if interest.Has(api.Readable) {
		ev.Events |= unix.EPOLLIN
	}
	if interest.Has(api.Writable) {
		ev.Events |= unix.EPOLLOUT
	}
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
	return ev
}

func (r *epollReactor) Register(fd uintptr, token api.Token, interest api.Interest) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), epollEvent(token, interest)); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Reregister(fd uintptr, token api.Token, interest api.Interest) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), epollEvent(token, interest)); err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Deregister(fd uintptr) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Poll(events []api.Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(r.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		e := raw[i].Events
		events[i] = api.Event{
			Token:    api.Token(uint64(uint32(raw[i].Fd)) | uint64(uint32(raw[i].Pad))<<32),
			Readable: e&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: e&unix.EPOLLOUT != 0,
			Hangup:   e&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0,
		}
	}
	return n, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
