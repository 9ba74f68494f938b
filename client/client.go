// File: client/client.go
// Package client is a Go client for the RPC protocol over WebSocket.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One reader goroutine demultiplexes responses onto streams; writes are
// serialized. Streams are safe for use from one goroutine each.

package client

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("rpc client closed")

// Config holds the dial parameters.
type Config struct {
	URL              string
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// Client multiplexes streams over one WebSocket connection.
type Client struct {
	ws  *websocket.Conn
	log zerolog.Logger

	wmu sync.Mutex

	mu      sync.Mutex
	streams map[uint64]*Stream
	next    uint64
	err     error
	done    chan struct{}
}

// Dial connects and starts the reader.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	d := websocket.Dialer{TLSClientConfig: cfg.TLS, HandshakeTimeout: cfg.HandshakeTimeout}
	ws, _, err := d.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	c := &Client{
		ws:      ws,
		log:     cfg.Logger,
		streams: make(map[uint64]*Stream),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		r, err := rpc.ParseResponse(msg)
		if err != nil {
			c.shutdown(err)
			return
		}
		c.mu.Lock()
		s := c.streams[r.Stream]
		if s != nil && r.Complete() {
			delete(c.streams, r.Stream)
		}
		c.mu.Unlock()
		if s == nil {
			c.log.Debug().Uint64("stream", r.Stream).Msg("response for unknown stream")
			continue
		}
		s.push(r)
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

// Err is the error that stopped the reader, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	c.shutdown(ErrClosed)
	return c.ws.Close()
}

// Open starts a stream for h. Nothing is sent until the first Send.
func (c *Client) Open(h rpc.Header) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.next++
	s := &Stream{id: c.next, c: c, header: h, notify: make(chan struct{}, 1)}
	c.streams[s.id] = s
	return s, nil
}

// Call sends body as a single packet and waits for the final response.
// Intermediate results are discarded. A failed call returns the response
// together with an *api.Error carrying its code.
func (c *Client) Call(ctx context.Context, h rpc.Header, body []byte) (rpc.Response, error) {
	s, err := c.Open(h)
	if err != nil {
		return rpc.Response{}, err
	}
	if err := s.Send(body, true); err != nil {
		return rpc.Response{}, err
	}
	for {
		r, err := s.Recv(ctx)
		if err != nil {
			return r, err
		}
		if r.Complete() {
			if r.Failed() {
				return r, api.NewError(r.Code(), "remote call failed").WithContext("stream", r.Stream)
			}
			return r, nil
		}
	}
}

func (c *Client) write(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, msg)
}

// Stream is one request stream and its responses.
type Stream struct {
	id     uint64
	c      *Client
	header rpc.Header
	sent   bool

	mu     sync.Mutex
	queue  []rpc.Response
	notify chan struct{}
}

func (s *Stream) ID() uint64 { return s.id }

// Send writes one packet. The first packet carries the header.
func (s *Stream) Send(chunk []byte, last bool) error {
	payload := chunk
	if !s.sent {
		payload = append(s.header.Append(nil), chunk...)
		s.sent = true
	}
	return s.c.write(rpc.AppendPacket(nil, s.id, last, payload))
}

// Recv waits for the next response on the stream.
func (s *Stream) Recv(ctx context.Context) (rpc.Response, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			r := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return r, nil
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-s.c.done:
			// drain what arrived before the reader stopped
			s.mu.Lock()
			n := len(s.queue)
			s.mu.Unlock()
			if n == 0 {
				return rpc.Response{}, s.c.Err()
			}
		case <-ctx.Done():
			return rpc.Response{}, ctx.Err()
		}
	}
}

func (s *Stream) push(r rpc.Response) {
	s.mu.Lock()
	s.queue = append(s.queue, r)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// WithHandle prefixes body with a transaction continuation handle as the
// server expects it when FlagHandle is set.
func WithHandle(handle uint64, body []byte) []byte {
	return append(binary.LittleEndian.AppendUint64(nil, handle|1), body...)
}
