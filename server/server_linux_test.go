//go:build linux

package server_test

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/momentics/hioload-rpc/internal/session"
	"github.com/momentics/hioload-rpc/param"
	"github.com/momentics/hioload-rpc/procs"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/momentics/hioload-rpc/server"
)

func call(t *testing.T, ws *websocket.Conn, stream uint64, last bool, chunk []byte) {
	t.Helper()
	if err := ws.WriteMessage(websocket.BinaryMessage, rpc.AppendPacket(nil, stream, last, chunk)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func reply(t *testing.T, ws *websocket.Conn) rpc.Response {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	kind, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("message type %d", kind)
	}
	r, err := rpc.ParseResponse(msg)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	return r
}

func TestEndToEndOverTLS(t *testing.T) {
	tlsCfg, roots, err := session.SelfSigned("127.0.0.1")
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	table, _ := procs.DefaultTable()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Workers = 2
	cfg.GrantEnvironments = []uint32{procs.EnvFull, procs.EnvPublic}
	cfg.ShutdownTimeout = 5 * time.Second

	s, err := server.NewServer(cfg, table, server.WithCertificates(session.StaticCertificates{Config: tlsCfg}))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- s.Wait() }()

	d := websocket.Dialer{
		TLSClientConfig:  &tls.Config{RootCAs: roots, ServerName: "127.0.0.1"},
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := d.Dial("wss://"+s.Addr()+"/rpc", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	echo := rpc.Header{Iface: uint16(procs.IfaceCore), Proc: procs.ProcEcho}
	call(t, ws, 1, true, append(echo.Append(nil), "over tls"...))
	if r := reply(t, ws); r.Stream != 1 || string(r.Body) != "over tls" {
		t.Fatalf("echo = %+v", r)
	}

	// split request: accumulated until the last packet
	call(t, ws, 2, false, append(echo.Append(nil), "split "...))
	call(t, ws, 2, true, []byte("request"))
	if r := reply(t, ws); string(r.Body) != "split request" {
		t.Fatalf("accumulated echo = %q", r.Body)
	}

	put := rpc.Header{Iface: uint16(procs.IfaceBlob), Proc: procs.ProcBlobPut}
	call(t, ws, 3, true, append(put.Append(nil), new(param.Builder).Bytes([]byte("stored")).Build()...))
	r := reply(t, ws)
	if r.Failed() || len(r.Body) != 8 {
		t.Fatalf("blob put = %+v", r)
	}
	get := rpc.Header{Iface: uint16(procs.IfaceBlob), Proc: procs.ProcBlobGet}
	ref := new(param.Builder).Stored(binary.LittleEndian.Uint64(r.Body)).Build()
	call(t, ws, 4, true, append(get.Append(nil), ref...))
	if r := reply(t, ws); string(r.Body) != "stored" {
		t.Fatalf("blob get = %+v", r)
	}

	// the public environment (handle 1) has no blob interface
	denied := rpc.Header{Env: 1, Iface: uint16(procs.IfaceBlob)}
	call(t, ws, 5, true, denied.Append(nil))
	if r := reply(t, ws); !r.Failed() {
		t.Fatalf("cross-environment call = %+v", r)
	}

	if st := s.Stats(); st["conn.accepted"] != 1 || st["rpc.messages"] < 6 {
		t.Errorf("stats = %v", st)
	}

	ws.Close()
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-waitErr; err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRejectReplyReachesClientOverTLS(t *testing.T) {
	tlsCfg, roots, err := session.SelfSigned("127.0.0.1")
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	table, _ := procs.DefaultTable()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Workers = 1
	cfg.ShutdownTimeout = 5 * time.Second

	s, err := server.NewServer(cfg, table, server.WithCertificates(session.StaticCertificates{Config: tlsCfg}))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Shutdown()

	for i := 0; i < 10; i++ {
		c, err := tls.Dial("tcp", s.Addr(), &tls.Config{RootCAs: roots, ServerName: "127.0.0.1"})
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		c.SetDeadline(time.Now().Add(10 * time.Second))
		if _, err := c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		resp, err := http.ReadResponse(bufio.NewReader(c), nil)
		if err != nil {
			t.Fatalf("connection %d: no reply: %v", i, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.Close()
		if resp.StatusCode != http.StatusBadRequest || err != nil || len(body) == 0 {
			t.Fatalf("connection %d: status=%d body=%q err=%v", i, resp.StatusCode, body, err)
		}
	}
}
