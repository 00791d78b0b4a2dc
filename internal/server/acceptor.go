// Package server accepts TCP connections and hands them to the worker pool.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/Tyrowin/relaychat/internal/queue"
)

// admission puts newly accepted clients on the handoff queue and drops them
// when it is saturated. It is shared by the TCP acceptor and the WebSocket
// handler so both ingress paths obey the same bound.
type admission struct {
	queue  *queue.Queue[*Client]
	logger *slog.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
}

func newAdmission(q *queue.Queue[*Client], logger *slog.Logger) *admission {
	return &admission{queue: q, logger: logger}
}

// admit reports whether c was queued. A rejected client is closed here.
func (a *admission) admit(c *Client) bool {
	a.accepted.Add(1)

	err := a.queue.Enqueue(c)
	if err == nil {
		a.logger.Debug("client queued", "conn_id", c.ID(), "queued", a.queue.Len())
		return true
	}

	a.rejected.Add(1)
	if errors.Is(err, queue.ErrFull) {
		a.logger.Warn("queue full, dropping connection", "conn_id", c.ID(), "remote", c.Addr())
	} else {
		a.logger.Info("server shutting down, dropping connection", "conn_id", c.ID(), "remote", c.Addr())
	}
	if cerr := c.Close(); cerr != nil && !isExpectedCloseError(cerr) {
		a.logger.Warn("error closing rejected connection", "conn_id", c.ID(), "err", cerr)
	}
	return false
}

// Acceptor is the single loop that accepts TCP clients.
type Acceptor struct {
	ln        net.Listener
	admission *admission
	logger    *slog.Logger
}

func newAcceptor(ln net.Listener, adm *admission, logger *slog.Logger) *Acceptor {
	return &Acceptor{ln: ln, admission: adm, logger: logger}
}

// Run accepts until the listener fails and returns that failure. A listener
// closed during shutdown surfaces as an error wrapping net.ErrClosed.
func (a *Acceptor) Run() error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}

		client := NewClient(conn, conn.RemoteAddr().String(), KindTCP)
		a.logger.Info("new connection", "conn_id", client.ID(), "remote", client.Addr())
		a.admission.admit(client)
	}
}
