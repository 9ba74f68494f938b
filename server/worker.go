// File: server/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker: one OS thread, one reactor, one listener and the connections it
// accepted. Connection and task state is touched only by the worker's own
// goroutine; other goroutines reach it through the wake inbox.

package server

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/eapache/queue"
	"github.com/momentics/hioload-rpc/affinity"
	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/control"
	"github.com/momentics/hioload-rpc/internal/session"
	"github.com/momentics/hioload-rpc/pool"
	"github.com/momentics/hioload-rpc/reactor"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/rs/zerolog"
)

// Reserved reactor tokens. Connection tokens carry the slot generation in
// the high 32 bits and slot+firstConnToken in the low 32 bits.
const (
	ListenerToken  api.Token = 0
	WakeToken      api.Token = 1
	firstConnToken           = 2
)

// Poll interval while refused connections linger.
const lingerPoll = 50 * time.Millisecond

func connToken(slot int, gen uint32) api.Token {
	return api.Token(uint64(gen)<<32 | uint64(slot+firstConnToken))
}

func splitToken(t api.Token) (slot int, gen uint32) {
	return int(uint32(t)) - firstConnToken, uint32(uint64(t) >> 32)
}

type wakeKind uint8

const (
	wakeTask wakeKind = iota
	wakeConn
)

type wakeup struct {
	kind wakeKind
	slot int
	gen  uint32
}

type taskEntry struct {
	conn *conn
	task rpc.Task
	call *rpc.Call
}

// WorkerOptions wires a worker to its collaborators. Waker must already be
// registered on Reactor under WakeToken.
type WorkerOptions struct {
	ID       uint32
	Config   *Config
	Reactor  api.Reactor
	Waker    reactor.Waker
	Listener api.Listener
	Engines  session.EngineFactory
	DB       rpc.DB
	Auth     Authorizer
	Metrics  *control.MetricsRegistry
	Logger   zerolog.Logger
}

type workerCounters struct {
	accepted, rejected, closed   *control.Counter
	messages, abandoned, dropped *control.Counter
	wakeups                      *control.Counter
}

// Worker runs the accept/dispatch loop for one listener.
type Worker struct {
	id      uint32
	cfg     *Config
	reactor api.Reactor
	waker   reactor.Waker
	ln      api.Listener
	engines session.EngineFactory
	db      rpc.DB
	auth    Authorizer
	log     zerolog.Logger
	m       workerCounters

	conns  *pool.Slab[*conn]
	tasks  *pool.Slab[*taskEntry]
	events []api.Event
	bufs   *pool.BytePool
	nextID uint64

	inMu    sync.Mutex
	inbox   *queue.Queue
	pending []wakeup

	// guards the waker fd against use after teardown closed it
	wakeMu     sync.RWMutex
	wakeClosed bool

	// connections refused at upgrade, open until their reply is flushed
	lingering int

	stopped atomix.Uint32
}

// NewWorker registers the listener and prepares the tables.
func NewWorker(o WorkerOptions) (*Worker, error) {
	cfg := o.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	mr := o.Metrics
	if mr == nil {
		mr = control.NewMetricsRegistry()
	}
	w := &Worker{
		id:      o.ID,
		cfg:     cfg,
		reactor: o.Reactor,
		waker:   o.Waker,
		ln:      o.Listener,
		engines: o.Engines,
		db:      o.DB,
		auth:    o.Auth,
		log:     o.Logger.With().Uint32("worker", o.ID).Logger(),
		conns:   pool.NewSlab[*conn](64),
		tasks:   pool.NewSlab[*taskEntry](64),
		events:  make([]api.Event, cfg.PollEvents),
		bufs:    pool.NewBytePool(cfg.ReadBufferSize),
		inbox:   queue.New(),
		m: workerCounters{
			accepted:  mr.Counter("conn.accepted"),
			rejected:  mr.Counter("conn.rejected"),
			closed:    mr.Counter("conn.closed"),
			messages:  mr.Counter("rpc.messages"),
			abandoned: mr.Counter("rpc.streams_abandoned"),
			dropped:   mr.Counter("rpc.streams_rejected"),
			wakeups:   mr.Counter("worker.wakeups"),
		},
	}
	if w.auth == nil {
		w.auth = StaticGrants{Environments: cfg.GrantEnvironments}
	}
	if err := w.reactor.Register(w.ln.RawFD(), ListenerToken, api.Readable); err != nil {
		return nil, fmt.Errorf("worker %d register listener: %w", w.id, err)
	}
	return w, nil
}

// ID is the worker index carried in TaskIDs.
func (w *Worker) ID() uint32 { return w.id }

// Connections is the number of live connections. Owner goroutine only.
func (w *Worker) Connections() int { return w.conns.Len() }

// Tasks is the number of reserved task slots. Owner goroutine only.
func (w *Worker) Tasks() int { return w.tasks.Len() }

// Run locks the goroutine to its thread and loops until Stop or a fatal
// error. All connections are closed on return.
func (w *Worker) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if w.cfg.PinCPUs {
		cpu := affinity.CPUForWorker(int(w.id))
		if err := affinity.SetAffinity(cpu); err != nil {
			w.log.Warn().Err(err).Int("cpu", cpu).Msg("cpu pinning failed")
		}
	}
	defer w.teardown()
	for w.stopped.Load() == 0 {
		timeout := time.Duration(-1)
		if w.lingering > 0 {
			timeout = lingerPoll
		}
		if err := w.RunOnce(timeout); err != nil {
			w.log.Error().Err(err).Msg("worker failed")
			return err
		}
	}
	return nil
}

// Stop asks Run to return. Safe from any goroutine.
func (w *Worker) Stop() {
	w.stopped.Store(1)
	w.kick()
}

func (w *Worker) kick() {
	w.wakeMu.RLock()
	if !w.wakeClosed {
		w.waker.Wake()
	}
	w.wakeMu.RUnlock()
}

// RunOnce drains the inbox, polls once with timeout and handles the events.
// A negative timeout blocks until an event arrives.
func (w *Worker) RunOnce(timeout time.Duration) error {
	w.drainInbox()
	n, err := w.reactor.Poll(w.events, timeout)
	if err != nil {
		return fmt.Errorf("worker %d poll: %w", w.id, err)
	}
	for _, ev := range w.events[:n] {
		switch ev.Token {
		case ListenerToken:
			if err := w.accept(); err != nil {
				return err
			}
		case WakeToken:
			w.waker.Drain()
		default:
			w.ready(ev)
		}
	}
	w.drainInbox()
	if w.lingering > 0 {
		w.expireLingering(time.Now())
	}
	return nil
}

func (w *Worker) accept() error {
	for {
		tr, err := w.ln.Accept()
		if err != nil {
			if iox.IsWouldBlock(err) {
				return nil
			}
			return fmt.Errorf("worker %d accept: %w", w.id, err)
		}
		w.open(tr)
	}
}

func (w *Worker) open(tr api.NetConn) {
	if w.cfg.MaxConnections > 0 && w.conns.Len() >= w.cfg.MaxConnections {
		w.m.rejected.Inc()
		w.log.Debug().Str("remote", tr.RemoteAddr()).Msg("connection limit reached")
		tr.Close()
		return
	}
	w.nextID++
	c := newConn(w, tr, uint64(w.id)<<48|w.nextID)
	c.slot, c.gen = w.conns.Insert(c)
	eng, err := w.engines(w.connWaker(c.slot, c.gen))
	if err != nil {
		w.conns.Remove(c.slot)
		w.bufs.PutBuffer(c.rbuf)
		tr.Close()
		w.log.Error().Err(err).Msg("tls engine")
		return
	}
	c.sess = session.New(tr, eng, w.cfg.ReadBufferSize)
	c.interest = api.Readable | api.Writable
	if err := w.reactor.Register(tr.RawFD(), connToken(c.slot, c.gen), c.interest); err != nil {
		w.conns.Remove(c.slot)
		w.bufs.PutBuffer(c.rbuf)
		c.sess.Close()
		w.log.Error().Err(err).Msg("register connection")
		return
	}
	w.m.accepted.Inc()
	c.log.Debug().Str("remote", tr.RemoteAddr()).Msg("accepted")
}

func (w *Worker) ready(ev api.Event) {
	slot, gen := splitToken(ev.Token)
	c, err := w.conns.GetGen(slot, gen)
	if err != nil {
		return
	}
	w.settle(c, c.sess.Ready(ev, c.deliver))
}

// settle applies the outcome of a session step: close, or bring the
// registered interest in line with what the session needs now.
func (w *Worker) settle(c *conn, out session.Outcome) {
	if out == session.Close {
		w.close(c, c.sess.Err())
		return
	}
	if c.closing {
		if c.lingerUntil.IsZero() {
			c.lingerUntil = time.Now().Add(w.cfg.CloseLinger)
			w.lingering++
		}
		if c.sess.Flushed() || !time.Now().Before(c.lingerUntil) {
			w.close(c, nil)
			return
		}
	}
	want := c.sess.Interest()
	if want == c.interest {
		return
	}
	if err := w.reactor.Reregister(c.tr.RawFD(), connToken(c.slot, c.gen), want); err != nil {
		w.close(c, err)
		return
	}
	c.interest = want
}

func (w *Worker) close(c *conn, cause error) {
	if cur, err := w.conns.GetGen(c.slot, c.gen); err != nil || cur != c {
		return
	}
	w.reactor.Deregister(c.tr.RawFD())
	if !c.lingerUntil.IsZero() {
		w.lingering--
	}
	if c.disp != nil {
		w.m.abandoned.Add(uint64(c.disp.Close()))
		w.m.dropped.Add(c.disp.Rejected())
	}
	c.sess.Close()
	w.conns.Remove(c.slot)
	w.bufs.PutBuffer(c.rbuf)
	c.rbuf = nil
	w.m.closed.Inc()
	ev := c.log.Debug()
	if cause != nil && !errors.Is(cause, io.EOF) {
		ev = c.log.Info().Err(cause)
	}
	ev.Msg("closed")
}

// expireLingering closes refused connections whose reply did not flush in
// time.
func (w *Worker) expireLingering(now time.Time) {
	var late []*conn
	w.conns.Range(func(_ int, c *conn) bool {
		if !c.lingerUntil.IsZero() && !now.Before(c.lingerUntil) {
			late = append(late, c)
		}
		return true
	})
	for _, c := range late {
		c.log.Debug().Msg("reject reply not flushed in time")
		w.close(c, nil)
	}
}

func (w *Worker) teardown() {
	var open []*conn
	w.conns.Range(func(_ int, c *conn) bool {
		open = append(open, c)
		return true
	})
	for _, c := range open {
		w.close(c, nil)
	}
	w.reactor.Deregister(w.ln.RawFD())
	w.ln.Close()
	w.wakeMu.Lock()
	w.wakeClosed = true
	w.waker.Close()
	w.wakeMu.Unlock()
	w.reactor.Close()
}

// post queues m for the owner and interrupts its Poll. Safe from any goroutine.
func (w *Worker) post(m wakeup) {
	w.inMu.Lock()
	w.inbox.Add(m)
	w.inMu.Unlock()
	w.kick()
}

func (w *Worker) connWaker(slot int, gen uint32) func() {
	return func() { w.post(wakeup{kind: wakeConn, slot: slot, gen: gen}) }
}

func (w *Worker) drainInbox() {
	w.inMu.Lock()
	for w.inbox.Length() > 0 {
		w.pending = append(w.pending, w.inbox.Remove().(wakeup))
	}
	w.inMu.Unlock()
	for i, m := range w.pending {
		w.m.wakeups.Inc()
		switch m.kind {
		case wakeTask:
			w.runTask(m.slot, m.gen)
		case wakeConn:
			if c, err := w.conns.GetGen(m.slot, m.gen); err == nil {
				w.settle(c, c.sess.Pump(c.deliver))
			}
		}
		w.pending[i] = wakeup{}
	}
	w.pending = w.pending[:0]
}

// runTask polls a woken task and flushes whatever it produced. Wakes for
// released or not yet attached tasks are ignored.
func (w *Worker) runTask(slot int, gen uint32) {
	e, err := w.tasks.GetGen(slot, gen)
	if err != nil || e.task == nil {
		return
	}
	c := e.conn
	rpc.PollTask(e.task, e.call)
	if cur, err := w.conns.GetGen(c.slot, c.gen); err == nil && cur == c {
		w.settle(c, c.sess.Pump(c.deliver))
	}
}

// wakeTask is Server.Wake for this worker.
func (w *Worker) wakeTask(id rpc.TaskID) {
	w.post(wakeup{kind: wakeTask, slot: int(id.Slot), gen: id.Gen})
}
