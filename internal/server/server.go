package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"so-appserver/internal/logger"
	"so-appserver/internal/metrics"
	"so-appserver/internal/router"
	"so-appserver/internal/sched"
	"so-appserver/internal/session"
)

// PoolName identifica el pool de conexiones en stats y métricas.
const PoolName = "conn"

// Config es lo que el servidor necesita para arrancar. Router y Store son
// obligatorios; el resto tiene defaults.
type Config struct {
	Addr          string
	Workers       int
	Queue         int
	AcceptPoll    time.Duration
	SweepInterval time.Duration
	ConnTimeout   time.Duration

	Router  *router.Router
	Store   session.Store
	Log     logger.Logger
	Metrics *metrics.Metrics
}

// Server es el Acceptor: dueño del listener, del loop de accept, del pool
// de conexiones y del barrendero de sesiones.
type Server struct {
	cfg     Config
	router  *router.Router
	store   session.Store
	log     logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	run     *runState
	running atomic.Bool // sin lock: /status lo lee desde el pool

	// host del listener, para el Domain de la cookie cuando falta Host:
	bindHost atomic.Value // string
	pool     atomic.Pointer[sched.Pool]

	startedAt time.Time
	connSeen  atomic.Uint64
}

// runState agrupa lo que vive entre un Start y su Stop.
type runState struct {
	ln           net.Listener
	pool         *sched.Pool
	group        *errgroup.Group
	acceptCancel context.CancelFunc
	reapCancel   context.CancelFunc
	acceptDone   chan struct{}
}

func New(cfg Config) (*Server, error) {
	if cfg.Router == nil || cfg.Store == nil {
		return nil, errors.New("server: router and store are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.AcceptPoll <= 0 {
		cfg.AcceptPoll = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		router:    cfg.Router,
		store:     cfg.Store,
		log:       cfg.Log.WithPrefix("[server]"),
		metrics:   cfg.Metrics,
		startedAt: time.Now(),
	}
	s.bindHost.Store("")
	if err := s.metrics.RegisterPool(PoolName, s.PoolStats); err != nil {
		return nil, err
	}
	return s, nil
}

// Start abre el listener y lanza el loop de accept, el pool y el
// barrendero. Llamarlo con el servidor corriendo no hace nada. Un fallo
// al abrir el socket se devuelve tal cual.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "server: listen %s", s.cfg.Addr)
	}
	dl, ok := ln.(deadlineListener)
	if !ok {
		_ = ln.Close()
		return errors.Newf("server: listener %T has no accept deadline", ln)
	}
	if host, _, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		s.bindHost.Store(host)
	}

	pool := sched.NewPool(PoolName, s.cfg.Workers, s.cfg.Queue)
	pool.Start()
	s.pool.Store(pool)

	g, gctx := errgroup.WithContext(context.Background())
	acceptCtx, acceptCancel := context.WithCancel(gctx)
	reapCtx, reapCancel := context.WithCancel(gctx)
	st := &runState{
		ln:           ln,
		pool:         pool,
		group:        g,
		acceptCancel: acceptCancel,
		reapCancel:   reapCancel,
		acceptDone:   make(chan struct{}),
	}

	g.Go(func() error {
		defer close(st.acceptDone)
		return s.acceptLoop(acceptCtx, dl, pool)
	})
	reaper := &session.Reaper{
		Store:    s.store,
		Interval: s.cfg.SweepInterval,
		Log:      s.log,
		OnSweep:  s.metrics.SessionsSwept,
	}
	g.Go(func() error { return reaper.Run(reapCtx) })

	s.run = st
	s.running.Store(true)
	s.log.Info("listening on %s (workers=%d queue=%d)", ln.Addr(), s.cfg.Workers, s.cfg.Queue)
	return nil
}

// Stop apaga en orden: deja de aceptar, espera el loop, drena el pool,
// detiene el barrendero y vacía el almacén. Es idempotente.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.run
	if st == nil {
		return nil
	}
	s.run = nil
	s.running.Store(false)

	st.acceptCancel()
	<-st.acceptDone
	closeErr := st.ln.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	st.pool.Close()
	st.reapCancel()
	groupErr := st.group.Wait()

	clearErr := s.store.Clear(ctx)
	s.log.Info("stopped")
	return errors.CombineErrors(groupErr, errors.CombineErrors(closeErr, clearErr))
}

// Running informa si hay un Start sin su Stop.
func (s *Server) Running() bool { return s.running.Load() }

// Addr devuelve la dirección real del listener (útil con ":0").
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.ln.Addr()
}

// Done se cierra cuando el loop de accept termina, por Stop o por error.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.run.acceptDone
}

type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// acceptLoop fija un deadline antes de cada Accept para ver la cancelación
// en a lo sumo un intervalo de sondeo.
func (s *Server) acceptLoop(ctx context.Context, ln deadlineListener, pool *sched.Pool) error {
	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := ln.SetDeadline(time.Now().Add(s.cfg.AcceptPoll)); err != nil {
			return errors.Wrap(err, "server: set accept deadline")
		}
		c, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// error transitorio (EMFILE, etc.): reintenta con espera creciente
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.log.Warn("accept error: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.connSeen.Add(1)
		s.metrics.ConnAccepted()

		conn := c
		// el trabajo en curso no se cancela con Stop: el pool lo drena
		err = pool.Submit(ctx, func(context.Context) { s.serveConn(context.Background(), conn) })
		if err != nil {
			s.log.Debug("connection dropped: %v", err)
			_ = conn.Close()
		}
	}
}
