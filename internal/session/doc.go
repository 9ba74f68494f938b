// Package session
// Author: momentics <momentics@gmail.com>
//
// Per-connection TLS session layer. A Session couples a non-blocking
// transport with a TLS Engine and advances Handshaking -> Established ->
// Closed on each readiness notification, handing decrypted bytes upward.
//
// Sessions are owned by exactly one worker goroutine. Engines may do work on
// helper goroutines, but report progress only through their wake callback.

package session
