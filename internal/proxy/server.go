package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"

	"github.com/QuadTriangle/wsbridge/internal/config"
	"github.com/QuadTriangle/wsbridge/internal/hooks"
)

// Server binds the configured address and runs one independent Session per
// accepted connection on a bounded worker pool. A session's failure never
// affects other sessions or the accept loop.
type Server struct {
	cfg   config.Config
	log   *slog.Logger
	hooks *hooks.Pipeline
	pool  *ants.Pool
	ln    net.Listener

	mu       sync.Mutex
	sessions map[string]*Session

	sessWG   sync.WaitGroup
	acceptWG sync.WaitGroup
	closed   atomic.Bool
}

// New builds a Server. The pipeline may be empty but not nil.
func New(cfg config.Config, logger *slog.Logger, pipeline *hooks.Pipeline) (*Server, error) {
	// Nonblocking: when every worker is busy the accept loop drops the
	// connection instead of stalling accepts for all clients.
	pool, err := ants.NewPool(cfg.MaxSessions, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create session pool: %w", err)
	}
	return &Server{
		cfg:      cfg,
		log:      logger,
		hooks:    pipeline,
		pool:     pool,
		sessions: make(map[string]*Session),
	}, nil
}

// Start binds the listen address and begins accepting in the background.
// A bind failure is fatal and returned to the caller.
func (srv *Server) Start() error {
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), "tcp", srv.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", srv.cfg.BindAddr, err)
	}
	srv.ln = ln
	srv.log.Info("websocket proxy server started",
		"bind_addr", ln.Addr().String(), "upstream_addr", srv.cfg.UpstreamAddr)

	srv.acceptWG.Add(1)
	go srv.acceptLoop()
	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (srv *Server) Addr() net.Addr { return srv.ln.Addr() }

func (srv *Server) acceptLoop() {
	defer srv.acceptWG.Done()
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			if srv.closed.Load() {
				return
			}
			srv.log.Warn("accept failed", "error", err)
			continue
		}
		srv.handleConn(conn)
	}
}

func (srv *Server) handleConn(conn net.Conn) {
	sess := NewSession(srv.cfg, srv.log, srv.hooks, conn)
	srv.track(sess)
	srv.hooks.NotifyAccept(sess.ID(), conn.RemoteAddr().String())
	srv.log.Info("new client arrived", "sid", sess.ID(), "client_addr", conn.RemoteAddr().String())

	srv.sessWG.Add(1)
	err := srv.pool.Submit(func() {
		defer srv.sessWG.Done()
		defer srv.untrack(sess)
		sess.Run()
	})
	if err != nil {
		srv.sessWG.Done()
		srv.untrack(sess)
		srv.log.Warn("session limit reached, dropping connection",
			"client_addr", conn.RemoteAddr().String(), "error", err)
		_ = conn.Close()
	}
}

func (srv *Server) track(sess *Session) {
	srv.mu.Lock()
	srv.sessions[sess.ID()] = sess
	srv.mu.Unlock()
}

func (srv *Server) untrack(sess *Session) {
	srv.mu.Lock()
	delete(srv.sessions, sess.ID())
	srv.mu.Unlock()
}

// ActiveSessions returns the number of sessions currently tracked.
func (srv *Server) ActiveSessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

// Shutdown stops accepting, asks every live session to close with 1001
// (going away) and waits up to drainTimeout for them to finish.
func (srv *Server) Shutdown(drainTimeout time.Duration) {
	if !srv.closed.CompareAndSwap(false, true) {
		return
	}
	if srv.ln != nil {
		_ = srv.ln.Close()
	}

	srv.mu.Lock()
	for _, sess := range srv.sessions {
		sess.CloseGoingAway()
	}
	srv.mu.Unlock()

	done := make(chan struct{})
	go func() {
		srv.sessWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		srv.log.Info("all sessions drained")
	case <-time.After(drainTimeout):
		srv.log.Warn("shutdown drain timed out", "active_sessions", srv.ActiveSessions())
	}

	srv.acceptWG.Wait()
	srv.pool.Release()
}
