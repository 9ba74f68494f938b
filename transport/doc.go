// Author: momentics <momentics@gmail.com>

// Package transport provides non-blocking TCP listeners and connections
// built directly on socket syscalls, for registration with a reactor.
// Every operation that would block returns iox.ErrWouldBlock.
package transport
