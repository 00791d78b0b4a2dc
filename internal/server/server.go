// Package server ties the handoff queue, registry, worker pool, acceptor and
// HTTP side together into a runnable relay server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/relaychat/internal/queue"
	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/version"
)

// Server is one chat room: a TCP acceptor, a fixed worker pool and the
// optional HTTP side, sharing one handoff queue and one registry.
type Server struct {
	cfg    Config
	logger *slog.Logger

	queue     *queue.Queue[*Client]
	registry  *registry.Registry[*Client]
	pool      *Pool
	admission *admission
	origins   *originPolicy
	upgrader  websocket.Upgrader

	closing atomic.Bool
}

// NewServer builds a server from cfg. Nothing runs until Serve.
func NewServer(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := queue.New[*Client](cfg.QueueCapacity)
	reg := registry.New[*Client](
		registry.WithMaxPeers(cfg.MaxPeers),
		registry.WithWriteTimeout(cfg.WriteTimeout),
		registry.WithLogger(logger),
	)

	s := &Server{
		cfg:       *cfg,
		logger:    logger,
		queue:     q,
		registry:  reg,
		admission: newAdmission(q, logger),
		origins:   newOriginPolicy(cfg.AllowedOrigins, logger),
	}
	s.pool = NewPool(PoolConfig{
		Workers:        cfg.Workers,
		ReadBufferSize: cfg.ReadBufferSize,
		ExcludeSender:  cfg.ExcludeSender,
	}, q, reg, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// ListenAndServe listens on the configured TCP address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the relay on ln until ctx is cancelled or the acceptor fails.
// Cancellation triggers a graceful shutdown and a nil return; an accept
// failure shuts down the same way and is returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("listening",
		"addr", ln.Addr().String(),
		"family", addressFamily(ln.Addr()),
		"workers", s.cfg.Workers,
		"queue_capacity", s.queue.Cap(),
	)

	s.pool.Start()

	g, gctx := errgroup.WithContext(ctx)

	acceptor := newAcceptor(ln, s.admission, s.logger)
	g.Go(func() error {
		err := acceptor.Run()
		if s.closing.Load() {
			return nil
		}
		s.logger.Error("acceptor stopped", "err", err)
		return err
	})

	var httpServer *http.Server
	if s.cfg.HTTPAddr != "" {
		httpServer = CreateServer(s.cfg.HTTPAddr, SetupRoutes(s))
		g.Go(func() error {
			if err := StartServer(httpServer, s.logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(ln, httpServer)
	})

	return g.Wait()
}

// shutdown stops intake, drops pending clients, interrupts active relays and
// waits up to ShutdownTimeout for the workers to finish their teardown.
// Nothing here takes the registry lock, which a broadcast stuck on a slow
// peer may hold indefinitely.
func (s *Server) shutdown(ln net.Listener, httpServer *http.Server) error {
	s.closing.Store(true)
	s.logger.Info("shutting down relay server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("error closing listener", "err", err)
	}

	var errs []error
	if httpServer != nil {
		if err := ShutdownServer(httpServer, s.cfg.ShutdownTimeout, s.logger); err != nil {
			errs = append(errs, err)
		}
	}

	pending := s.queue.Close()
	for _, c := range pending {
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("error closing pending connection", "conn_id", c.ID(), "err", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Info("dropped pending connections", "count", len(pending))
	}

	// Workers own registered clients; expiring deadlines makes them finish
	// their relay loops and close the clients themselves.
	s.registry.Close()
	if n := s.pool.Interrupt(); n > 0 {
		s.logger.Info("interrupted active connections", "count", n)
	}

	if err := s.pool.Wait(ctx); err != nil {
		s.logger.Warn("workers did not stop before timeout", "err", err)
		errs = append(errs, fmt.Errorf("wait for workers: %w", err))
	} else {
		s.logger.Info("relay server shutdown completed")
	}

	return errors.Join(errs...)
}

// Stats returns current counters.
func (s *Server) Stats() Stats {
	return Stats{
		Active:        s.registry.Len(),
		Queued:        s.queue.Len(),
		Accepted:      s.admission.accepted.Load(),
		Rejected:      s.admission.rejected.Load(),
		Served:        s.pool.Served(),
		Workers:       s.cfg.Workers,
		QueueCapacity: s.queue.Cap(),
		Version:       version.String(),
	}
}
