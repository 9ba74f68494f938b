//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"errors"

	"github.com/momentics/hioload-rpc/api"
)

var errUnsupported = errors.New("reactor: this platform is not supported")

func newPoller() (api.Reactor, error) { return nil, errUnsupported }

func newWaker() (Waker, error) { return nil, errUnsupported }
