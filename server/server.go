// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server facade: owns the procedure table, the shared capabilities and the
// workers. It is the rpc.DB every procedure sees.

package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/blob"
	"github.com/momentics/hioload-rpc/control"
	"github.com/momentics/hioload-rpc/internal/session"
	"github.com/momentics/hioload-rpc/pool"
	"github.com/momentics/hioload-rpc/reactor"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/momentics/hioload-rpc/transport"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

// Server runs Config.Workers workers on one listen address.
type Server struct {
	cfg   *Config
	table *rpc.ProcedureTable
	blobs api.BlobStore
	certs api.CertificateProvider
	auth  Authorizer
	log   zerolog.Logger

	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	mu       sync.Mutex
	started  bool
	workers  []*Worker
	addr     string
	done     chan struct{}
	errOnce  sync.Once
	firstErr error
	wg       sync.WaitGroup
}

// NewServer validates cfg and builds the facade. Nothing is bound until Start.
func NewServer(cfg *Config, table *rpc.ProcedureTable, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil procedure table")
	}
	s := &Server{
		cfg:     cfg,
		table:   table,
		log:     zerolog.Nop(),
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemoryStore(cfg.MaxMessageSize)
	}
	if s.certs == nil {
		s.certs = session.FileCertificates{CertFile: cfg.CertFile, KeyFile: cfg.KeyFile}
	}
	if s.auth == nil {
		s.auth = StaticGrants{Environments: cfg.GrantEnvironments}
	}
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("server.workers", func() any { return cfg.Workers })
	s.probes.RegisterProbe("server.addr", func() any { return s.Addr() })
	s.probes.RegisterProbe("rpc.interfaces", func() any { return table.NumInterfaces() })
	s.probes.RegisterProbe("rpc.environments", func() any { return table.NumEnvironments() })
	return s, nil
}

func (s *Server) Procedures() *rpc.ProcedureTable { return s.table }
func (s *Server) Blobs() api.BlobStore            { return s.blobs }

// Addr is the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds one listener per worker and launches the workers.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRunning
	}
	tlsCfg, err := s.certs.Load()
	if err != nil {
		return fmt.Errorf("load certificates: %w", err)
	}
	engines := session.StdEngineFactory(tlsCfg, pool.NewBytePool(s.cfg.ReadBufferSize))

	addr := s.cfg.ListenAddr
	workers := make([]*Worker, 0, s.cfg.Workers)
	fail := func(err error) error {
		for _, w := range workers {
			w.teardown()
		}
		return err
	}
	for i := 0; i < s.cfg.Workers; i++ {
		w, err := s.newWorker(uint32(i), addr, engines)
		if err != nil {
			return fail(err)
		}
		// later listeners must share the port picked for ":0"
		addr = w.ln.Addr()
		workers = append(workers, w)
	}
	s.workers, s.addr, s.started = workers, addr, true

	for _, w := range workers {
		s.wg.Add(1)
		go func(w *Worker) {
			defer s.wg.Done()
			if err := w.Run(); err != nil {
				s.fail(err)
			}
		}(w)
	}
	s.log.Info().Str("addr", addr).Int("workers", len(workers)).Msg("server started")
	return nil
}

func (s *Server) newWorker(id uint32, addr string, engines session.EngineFactory) (*Worker, error) {
	ln, err := transport.ListenConfig{ReusePort: true}.Listen(addr)
	if err != nil {
		return nil, fmt.Errorf("worker %d listen: %w", id, err)
	}
	r, err := reactor.NewReactor()
	if err != nil {
		ln.Close()
		return nil, err
	}
	wk, err := reactor.NewWaker(r, WakeToken)
	if err != nil {
		r.Close()
		ln.Close()
		return nil, err
	}
	w, err := NewWorker(WorkerOptions{
		ID:       id,
		Config:   s.cfg,
		Reactor:  r,
		Waker:    wk,
		Listener: ln,
		Engines:  engines,
		DB:       s,
		Auth:     s.auth,
		Metrics:  s.metrics,
		Logger:   s.log,
	})
	if err != nil {
		wk.Close()
		r.Close()
		ln.Close()
		return nil, err
	}
	return w, nil
}

// fail records the first thread-fatal error and stops the server.
func (s *Server) fail(err error) {
	s.errOnce.Do(func() {
		s.firstErr = err
		close(s.done)
	})
}

// Wait blocks until Shutdown or a worker fails, and returns the worker error.
func (s *Server) Wait() error {
	<-s.done
	s.stopWorkers()
	return s.firstErr
}

// Run is Start followed by Wait.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.Wait()
}

// Shutdown stops every worker and waits up to ShutdownTimeout for them to
// close their connections. Calling it again is a no-op.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotRunning
	}
	s.errOnce.Do(func() { close(s.done) })
	return s.stopWorkers()
}

func (s *Server) stopWorkers() error {
	for _, w := range s.workers {
		w.Stop()
	}
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown: %w", api.ErrOperationTimeout)
	}
}

// Wake reschedules task id on its worker. Safe from any goroutine; unknown
// or stale ids are ignored.
func (s *Server) Wake(id rpc.TaskID) {
	if int(id.Thread) >= len(s.workers) {
		return
	}
	s.workers[id.Thread].wakeTask(id)
}

// Stats returns the counters of all workers, plus conn.open.
func (s *Server) Stats() map[string]uint64 {
	snap := s.metrics.Snapshot()
	if acc, cl := snap["conn.accepted"], snap["conn.closed"]; acc >= cl {
		snap["conn.open"] = acc - cl
	}
	return snap
}

// Debug evaluates the registered probes.
func (s *Server) Debug() map[string]any { return s.probes.DumpState() }

var _ rpc.DB = (*Server)(nil)
