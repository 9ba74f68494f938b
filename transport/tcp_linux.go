//go:build linux

// File: transport/tcp_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP over raw sockets (SOCK_NONBLOCK, accept4, TCP_NODELAY).

package transport

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-rpc/api"
	"golang.org/x/sys/unix"
)

// ListenConfig controls listener socket options.
type ListenConfig struct {
	// ReusePort lets several workers bind the same address, each with its own
	// accept queue.
	ReusePort bool
	Backlog   int
}

// Listener is a non-blocking TCP listener.
type Listener struct {
	fd   int
	addr string
}

// Listen binds addr ("host:port") and starts listening.
func (lc ListenConfig) Listen(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	family, sa := sockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if lc.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("SO_REUSEPORT: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	backlog := lc.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &Listener{fd: fd, addr: formatSockaddr(bound)}, nil
}

// Accept returns the next pending connection, or iox.ErrWouldBlock when the
// backlog is empty or the call was interrupted. Connections aborted before
// they were accepted are skipped. Any other error is fatal for the listener.
func (l *Listener) Accept() (api.NetConn, error) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return &Conn{fd: nfd, remote: formatSockaddr(sa)}, nil
		case unix.EAGAIN, unix.EINTR:
			return nil, iox.ErrWouldBlock
		case unix.ECONNABORTED:
			continue
		default:
			return nil, fmt.Errorf("accept4: %w", err)
		}
	}
}

func (l *Listener) Close() error   { return unix.Close(l.fd) }
func (l *Listener) RawFD() uintptr { return uintptr(l.fd) }

// Addr is the bound address, with the kernel-chosen port if ":0" was used.
func (l *Listener) Addr() string { return l.addr }

// Conn is a non-blocking TCP connection.
type Conn struct {
	fd     int
	remote string
}

func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		default:
			return 0, fmt.Errorf("read: %w", err)
		}
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch err {
		case nil:
		case unix.EINTR:
		case unix.EAGAIN:
			return written, iox.ErrWouldBlock
		default:
			return written, fmt.Errorf("write: %w", err)
		}
	}
	return written, nil
}

func (c *Conn) Close() error       { return unix.Close(c.fd) }
func (c *Conn) RawFD() uintptr     { return uintptr(c.fd) }
func (c *Conn) RemoteAddr() string { return c.remote }

func sockaddr(a *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := a.IP.To4(); ip4 != nil || a.IP == nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return unix.AF_INET6, sa
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return "unknown"
}

var (
	_ api.Listener = (*Listener)(nil)
	_ api.NetConn  = (*Conn)(nil)
)
