// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection glue between the TLS session, the WebSocket upgrade and
// framer, and the RPC dispatcher.

package server

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/internal/session"
	"github.com/momentics/hioload-rpc/protocol"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/rs/zerolog"
)

type conn struct {
	w        *Worker
	slot     int
	gen      uint32
	tr       api.NetConn
	sess     *session.Session
	interest api.Interest
	log      zerolog.Logger

	id       uint64
	upgraded bool
	closing  bool
	head     []byte

	// set once a refused connection starts waiting for its reply to flush
	lingerUntil time.Time

	// decrypted bytes not yet consumed by the framer
	in     bytes.Buffer
	framer *protocol.Framer
	rbuf   []byte
	msg    []byte
	wbuf   []byte

	rpcConn rpc.Connection
	disp    *rpc.Dispatcher
}

func newConn(w *Worker, tr api.NetConn, id uint64) *conn {
	return &conn{
		w:    w,
		tr:   tr,
		id:   id,
		log:  w.log.With().Uint64("conn", id).Logger(),
		rbuf: w.bufs.GetBuffer(),
	}
}

// plainIO is the byte stream the framer sees: reads drain c.in, writes go
// to the TLS session.
type plainIO struct{ c *conn }

func (p plainIO) Read(b []byte) (int, error) {
	if p.c.in.Len() == 0 {
		return 0, iox.ErrWouldBlock
	}
	return p.c.in.Read(b)
}

func (p plainIO) Write(b []byte) (int, error) { return p.c.sess.Write(b) }

// deliver is the session's plaintext callback.
func (c *conn) deliver(p []byte) error {
	if c.closing {
		return nil
	}
	if !c.upgraded {
		c.head = append(c.head, p...)
		end := protocol.HeaderEnd(c.head)
		if end < 0 {
			if len(c.head) > protocol.MaxHandshakeHeadersSize {
				c.reject(http.StatusRequestHeaderFieldsTooLarge, protocol.ErrHandshakeTooLarge)
			}
			return nil
		}
		rest := c.head[end:]
		if !c.upgrade(c.head[:end]) {
			return nil
		}
		c.in.Write(rest)
		c.head = nil
	} else {
		c.in.Write(p)
	}
	return c.readFrames()
}

// upgrade answers the WebSocket handshake and binds the dispatcher.
func (c *conn) upgrade(head []byte) bool {
	req, err := protocol.ReadUpgradeRequest(head)
	if err != nil {
		c.reject(http.StatusBadRequest, err)
		return false
	}
	hdr, err := protocol.Upgrade(req)
	if err != nil {
		status := http.StatusBadRequest
		if err == protocol.ErrBadWebSocketVersion {
			status = http.StatusUpgradeRequired
		}
		c.reject(status, err)
		return false
	}
	user, envs, err := c.w.auth.Authorize(req, c.tr.RemoteAddr())
	if err != nil {
		c.reject(http.StatusForbidden, err)
		return false
	}
	c.rpcConn = rpc.Connection{
		ID:           c.id,
		Kind:         api.TransportStream,
		User:         user,
		Environments: envs,
		Remote:       c.tr.RemoteAddr(),
	}
	c.disp = rpc.NewDispatcher(&c.rpcConn, c.w.db, c.w.id, c, c, rpc.WithLogger(c.log),
		rpc.WithMaxTransactions(c.w.cfg.MaxTransactions))
	c.framer = protocol.NewFramer(plainIO{c})
	if _, err := c.sess.Write(protocol.AppendUpgradeResponse(nil, hdr)); err != nil {
		c.closing = true
		return false
	}
	c.upgraded = true
	c.log.Debug().Uint32("user", user).Int("environments", len(envs)).Msg("upgraded")
	return true
}

// reject queues an HTTP error reply; the worker closes after flushing.
func (c *conn) reject(status int, err error) {
	c.log.Debug().Err(err).Int("status", status).Msg("upgrade rejected")
	c.sess.Write(protocol.AppendRejectResponse(nil, status, err))
	c.closing = true
}

// readFrames feeds every complete message in c.in to the dispatcher.
func (c *conn) readFrames() error {
	for {
		n, ended, err := c.framer.ReadSome(c.rbuf)
		if n > 0 {
			if len(c.msg)+n > c.w.cfg.MaxMessageSize {
				return fmt.Errorf("%w: over %d bytes", protocol.ErrMessageTooLarge, c.w.cfg.MaxMessageSize)
			}
			c.msg = append(c.msg, c.rbuf[:n]...)
		}
		if ended {
			m := c.msg
			c.msg = nil
			if err := c.handleMessage(m); err != nil {
				return err
			}
		}
		if err != nil {
			if iox.IsWouldBlock(err) {
				return nil
			}
			return err
		}
	}
}

// handleMessage unwraps the packet envelope. A malformed envelope cannot be
// attributed to a stream and ends the connection.
func (c *conn) handleMessage(m []byte) error {
	id, last, chunk, err := rpc.ParsePacket(m)
	if err != nil {
		return err
	}
	c.w.m.messages.Inc()
	c.disp.HandlePacket(id, chunk, last)
	return nil
}

// Send implements rpc.Sink.
func (c *conn) Send(r rpc.Response) error {
	if c.framer == nil {
		return api.ErrTransportClosed
	}
	c.wbuf = rpc.AppendResponse(c.wbuf[:0], r)
	return c.framer.WriteMessage(protocol.OpcodeBinary, c.wbuf)
}

// Reserve implements rpc.Spawner.
func (c *conn) Reserve() rpc.TaskID {
	slot, gen := c.w.tasks.Insert(&taskEntry{conn: c})
	return rpc.TaskID{Thread: c.w.id, Slot: uint32(slot), Gen: gen}
}

func (c *conn) Attach(id rpc.TaskID, t rpc.Task, call *rpc.Call) {
	if e, err := c.w.tasks.GetGen(int(id.Slot), id.Gen); err == nil {
		e.task, e.call = t, call
	}
}

// Release is idempotent; a stale id is ignored.
func (c *conn) Release(id rpc.TaskID) {
	if _, err := c.w.tasks.GetGen(int(id.Slot), id.Gen); err == nil {
		c.w.tasks.Remove(int(id.Slot))
	}
}

func (c *conn) Waker(id rpc.TaskID) func() {
	w := c.w
	return func() { w.wakeTask(id) }
}
