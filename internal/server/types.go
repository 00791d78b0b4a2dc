// Package server defines shared types and error classification helpers used
// by the acceptor, the workers and the HTTP side.
package server

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// Stats is a point-in-time view of the server, served on /stats.
type Stats struct {
	Active        int    `json:"active"`
	Queued        int    `json:"queued"`
	Accepted      uint64 `json:"accepted"`
	Rejected      uint64 `json:"rejected"`
	Served        uint64 `json:"served"`
	Workers       int    `json:"workers"`
	QueueCapacity int    `json:"queue_capacity"`
	Version       string `json:"version"`
}

// isExpectedCloseError reports whether err is the normal end of a connection
// rather than an I/O fault worth a warning.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// isTimeout reports whether err came from an expired deadline.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// addressFamily names the IP family of a listening address for logs.
func addressFamily(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.Network()
	}
	if tcp.IP.To4() != nil {
		return "ipv4"
	}
	return "ipv6"
}
