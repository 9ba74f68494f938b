// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness-driven poller behind api.Reactor:
// level-triggered epoll on Linux, plus an eventfd Waker that lets other
// goroutines interrupt a blocked Poll.
package reactor
