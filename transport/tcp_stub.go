//go:build !linux

// File: transport/tcp_stub.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"errors"

	"github.com/momentics/hioload-rpc/api"
)

type ListenConfig struct {
	ReusePort bool
	Backlog   int
}

// Listener is unavailable on this platform.
type Listener struct{}

func (lc ListenConfig) Listen(addr string) (*Listener, error) {
	return nil, errors.New("transport: non-blocking TCP is only implemented on linux")
}

func (l *Listener) Accept() (api.NetConn, error) { return nil, api.ErrNotSupported }
func (l *Listener) Close() error                 { return nil }
func (l *Listener) RawFD() uintptr               { return 0 }
func (l *Listener) Addr() string                 { return "" }
