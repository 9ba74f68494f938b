// Package rpc
// Author: momentics <momentics@gmail.com>
//
// Request dispatch for hioload-rpc. Each WebSocket message carries one packet
// of a client stream; the first packet of a stream starts with an 8-byte
// little-endian header (environment, interface, procedure, flags) that is
// resolved through the connection's environments into an immutable
// ProcedureTable. Multi-packet requests are accumulated or streamed, and
// transactions are continued across streams with server-issued handles.
package rpc
