// Package server exposes the query service over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/eqs/internal/config"
	"github.com/zeusync/eqs/internal/core/events/bus"
	"github.com/zeusync/eqs/internal/core/observability/log"
)

// Server is the EQS network front end.
type Server struct {
	cfg    config.ServerConfig
	engine Engine
	bus    bus.EventBus
	logger log.Log

	limiter *IPRateLimiter
	hub     *Hub
	handler http.Handler

	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}

	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex
}

// NewServer builds the router and attaches the hub to the bus. gatherer may be
// nil to disable /metrics.
func NewServer(cfg config.ServerConfig, engine Engine, b bus.EventBus, gatherer prometheus.Gatherer, logger log.Log) (*Server, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		bus:     b,
		logger:  logger.With(log.String("component", "server")),
		limiter: NewIPRateLimiter(cfg.RateLimit),
	}
	s.hub = NewHub(engine, cfg.MaxWSClients, nil, logger)
	if b != nil {
		if err := s.hub.Attach(b); err != nil {
			s.limiter.Stop()
			return nil, err
		}
	}
	s.handler = NewRouter(RouterConfig{
		Engine:      engine,
		Hub:         s.hub,
		RateLimiter: s.limiter,
		Gatherer:    gatherer,
		CORSOrigins: cfg.CORSOrigins,
		MaxBody:     cfg.MaxBodyBytes,
		Logger:      s.logger,
	})

	s.logger.Info("Server created",
		log.String("listen_addr", cfg.ListenAddr),
		log.Int("max_ws_clients", cfg.MaxWSClients))
	return s, nil
}

// Handler is the full router, usable with httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub is the websocket session hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.serveDone = make(chan struct{})
	srv, done := s.httpServer, s.serveDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains HTTP requests and disconnects websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping server")

	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	s.mu.Lock()
	srv, done := s.httpServer, s.serveDone
	s.mu.Unlock()

	// Hijacked websocket connections are not tracked by Shutdown.
	s.hub.Close()
	err := srv.Shutdown(ctx)
	<-done

	s.logger.Info("Server stopped", log.Int("ws_clients", s.hub.ClientCount()))
	return err
}

// Close stops the server if running and releases background resources.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.running.Load() {
		err = s.Stop(context.Background())
	}
	s.limiter.Stop()
	if s.bus != nil {
		err = errors.Join(err, s.hub.Detach(s.bus))
	}
	s.logger.Info("Server closed")
	return err
}

// Stats contains server statistics
type Stats struct {
	WSClients       int
	RequestsAllowed uint64
	RequestsLimited uint64
	FramesDropped   uint64
	Running         bool
}

func (s *Server) GetStats() Stats {
	allowed, limited := s.limiter.Stats()
	return Stats{
		WSClients:       s.hub.ClientCount(),
		RequestsAllowed: allowed,
		RequestsLimited: limited,
		FramesDropped:   s.hub.dropped.Load(),
		Running:         s.running.Load(),
	}
}
