// Package server runs the fixed worker pool that serves queued clients.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/relaychat/internal/queue"
	"github.com/Tyrowin/relaychat/internal/registry"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers        int
	ReadBufferSize int
	ExcludeSender  bool
}

// Pool is a fixed set of workers. Each worker repeatedly takes a client from
// the handoff queue, registers it, relays its chunks to every registered
// client, then deregisters and closes it.
type Pool struct {
	cfg      PoolConfig
	queue    *queue.Queue[*Client]
	registry *registry.Registry[*Client]
	logger   *slog.Logger

	served  atomic.Uint64
	started atomic.Bool
	wg      sync.WaitGroup

	// active holds the clients workers currently own. It has its own lock so
	// Interrupt never waits behind a broadcast holding the registry lock.
	mu       sync.Mutex
	active   map[*Client]struct{}
	stopping bool
}

// NewPool creates a pool bound to q and reg. Workers start on Start.
func NewPool(cfg PoolConfig, q *queue.Queue[*Client], reg *registry.Registry[*Client], logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ReadBufferSize < 1 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		registry: reg,
		logger:   logger,
		active:   make(map[*Client]struct{}),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.cfg.Workers; i++ {
		p.logger.Debug("starting worker", "worker", i)
		p.wg.Add(1)
		go p.run(i)
	}
}

// Wait blocks until every worker has exited, which happens only after the
// queue is closed, or until ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt expires the deadlines of every client a worker currently owns, so
// blocked reads and broadcast writes return and the workers tear their clients
// down. Clients dequeued afterwards are closed without being served. It
// returns the number of clients interrupted.
func (p *Pool) Interrupt() int {
	p.mu.Lock()
	p.stopping = true
	clients := make([]*Client, 0, len(p.active))
	for c := range p.active {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	for _, c := range clients {
		c.interrupt()
	}
	return len(clients)
}

// Served returns how many clients have finished being served.
func (p *Pool) Served() uint64 {
	return p.served.Load()
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	buf := make([]byte, p.cfg.ReadBufferSize)
	for {
		client, ok := p.queue.Dequeue()
		if !ok {
			p.logger.Debug("worker exiting", "worker", id)
			return
		}
		p.serve(id, client, buf)
	}
}

func (p *Pool) serve(id int, c *Client, buf []byte) {
	log := p.logger.With("worker", id, "conn_id", c.ID(), "remote", c.Addr())

	if !p.track(c) {
		log.Info("pool stopping, dropping client")
		p.closeClient(log, c)
		return
	}
	defer p.untrack(c)

	if err := p.registry.Register(c); err != nil {
		log.Warn("could not register client, dropping", "err", err)
		p.closeClient(log, c)
		return
	}
	log.Info("client registered", "kind", c.Kind(), "active", p.registry.Len())

	p.relay(log, c, buf)

	p.registry.Deregister(c)
	p.closeClient(log, c)
	p.served.Add(1)
	log.Info("client unregistered", "active", p.registry.Len())
}

// relay returns when the client closes, a read fails, or a broadcast from
// this client fails to reach any peer.
func (p *Pool) relay(log *slog.Logger, c *Client, buf []byte) {
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if berr := p.broadcast(c, buf[:n]); berr != nil {
				p.logBroadcastFailure(log, berr)
				return
			}
		}
		if err != nil {
			switch {
			case isExpectedCloseError(err):
				log.Info("client closed connection")
			case isTimeout(err):
				log.Debug("read interrupted", "err", err)
			default:
				log.Warn("read failed", "err", err)
			}
			return
		}
		if n == 0 {
			log.Info("client closed connection")
			return
		}
	}
}

func (p *Pool) broadcast(sender *Client, chunk []byte) error {
	if p.cfg.ExcludeSender {
		return p.registry.BroadcastExcept(sender, chunk)
	}
	return p.registry.Broadcast(chunk)
}

func (p *Pool) logBroadcastFailure(log *slog.Logger, err error) {
	var be *registry.BroadcastError[*Client]
	if !errors.As(err, &be) {
		log.Warn("broadcast failed", "err", err)
		return
	}
	for _, f := range be.Failures {
		log.Warn("broadcast write failed",
			"peer_id", f.Peer.ID(),
			"peer", f.Peer.Addr(),
			"err", f.Err,
		)
	}
}

func (p *Pool) track(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return false
	}
	p.active[c] = struct{}{}
	return true
}

func (p *Pool) untrack(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, c)
}

func (p *Pool) closeClient(log *slog.Logger, c *Client) {
	if err := c.Close(); err != nil && !isExpectedCloseError(err) {
		log.Warn("error closing client connection", "err", err)
	}
}
