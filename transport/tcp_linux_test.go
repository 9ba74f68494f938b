//go:build linux

package transport_test

import (
	"io"
	"net"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/transport"
)

func acceptWithin(t *testing.T, l *transport.Listener, d time.Duration) api.NetConn {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		c, err := l.Accept()
		if err == nil {
			return c
		}
		if !iox.IsWouldBlock(err) {
			t.Fatalf("Accept: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return nil
}

func readWithin(t *testing.T, c api.NetConn, buf []byte, d time.Duration) (int, error) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		n, err := c.Read(buf)
		if !iox.IsWouldBlock(err) {
			return n, err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("read never became ready")
	return 0, nil
}

func TestListenerAcceptReadWrite(t *testing.T) {
	l, err := transport.ListenConfig{ReusePort: true}.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	if _, err := l.Accept(); !iox.IsWouldBlock(err) {
		t.Fatalf("empty backlog Accept err = %v", err)
	}

	client, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server := acceptWithin(t, l, 2*time.Second)
	defer server.Close()

	buf := make([]byte, 16)
	if _, err := server.Read(buf); !iox.IsWouldBlock(err) {
		t.Fatalf("idle Read err = %v", err)
	}
	client.Write([]byte("hello"))
	n, err := readWithin(t, server, buf, 2*time.Second)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if _, err := server.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, buf[:5]); err != nil || string(buf[:5]) != "world" {
		t.Fatalf("client read = %q, %v", buf[:5], err)
	}

	client.Close()
	if _, err := readWithin(t, server, buf, 2*time.Second); err != io.EOF {
		t.Fatalf("Read after peer close err = %v, want io.EOF", err)
	}
}

func TestReusePortSharesAddress(t *testing.T) {
	lc := transport.ListenConfig{ReusePort: true}
	a, err := lc.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer a.Close()
	b, err := lc.Listen(a.Addr())
	if err != nil {
		t.Fatalf("second Listen on %s: %v", a.Addr(), err)
	}
	b.Close()
}
