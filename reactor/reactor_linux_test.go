//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/reactor"
	"golang.org/x/sys/unix"
)

func TestEpollReadinessAndWideTokens(t *testing.T) {
	r, err := reactor.NewReactor()
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	defer r.Close()

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	tok := api.Token(1<<40 | 5)
	if err := r.Register(uintptr(p[0]), tok, api.Readable); err != nil {
		t.Fatalf("Register: %v", err)
	}
	events := make([]api.Event, 8)
	if n, err := r.Poll(events, 0); err != nil || n != 0 {
		t.Fatalf("idle Poll = %d, %v", n, err)
	}
	unix.Write(p[1], []byte("x"))
	n, err := r.Poll(events, time.Second)
	if err != nil || n != 1 {
		t.Fatalf("Poll = %d, %v", n, err)
	}
	if events[0].Token != tok || !events[0].Readable {
		t.Fatalf("event = %+v", events[0])
	}

	// level-triggered: still ready until drained
	if n, _ := r.Poll(events, 0); n != 1 {
		t.Fatalf("undrained source not reported again, n=%d", n)
	}
	if err := r.Reregister(uintptr(p[0]), tok, 0); err != nil {
		t.Fatalf("Reregister: %v", err)
	}
	if n, _ := r.Poll(events, 0); n != 0 {
		t.Fatalf("source without interest reported, n=%d", n)
	}
	if err := r.Deregister(uintptr(p[0])); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
}

func TestWakerInterruptsPoll(t *testing.T) {
	r, err := reactor.NewReactor()
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	defer r.Close()
	w, err := reactor.NewWaker(r, 1)
	if err != nil {
		t.Fatalf("NewWaker: %v", err)
	}
	defer w.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Wake()
		w.Wake()
	}()
	events := make([]api.Event, 4)
	n, err := r.Poll(events, 5*time.Second)
	if err != nil || n != 1 || events[0].Token != 1 {
		t.Fatalf("Poll = %d %+v, %v", n, events[0], err)
	}
	if err := w.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	w.Drain()
	if n, _ := r.Poll(events, 0); n != 0 {
		t.Fatalf("drained waker still ready, n=%d", n)
	}
}
