// Package server wraps accepted connections as Clients, the handles that move
// from the acceptor through the handoff queue to a worker.
package server

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Transport kinds.
const (
	KindTCP       = "tcp"
	KindWebSocket = "websocket"
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Client is one accepted connection. It is owned by the handoff queue while
// pending and by a single worker while served. Close releases the transport
// exactly once.
type Client struct {
	id   uuid.UUID
	addr string
	kind string
	conn io.ReadWriteCloser

	closeOnce sync.Once
	closeErr  error
}

// NewClient wraps conn. addr is the remote address used in logs.
func NewClient(conn io.ReadWriteCloser, addr, kind string) *Client {
	return &Client{
		id:   uuid.New(),
		addr: addr,
		kind: kind,
		conn: conn,
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() uuid.UUID { return c.id }

// Addr returns the remote address.
func (c *Client) Addr() string { return c.addr }

// Kind returns KindTCP or KindWebSocket.
func (c *Client) Kind() string { return c.kind }

// Read reads one chunk from the transport.
func (c *Client) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write writes p to the transport.
func (c *Client) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// SetWriteDeadline forwards to the transport when it supports deadlines.
func (c *Client) SetWriteDeadline(t time.Time) error {
	if d, ok := c.conn.(writeDeadliner); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

// interrupt expires the transport's deadlines so a blocked Read or Write
// returns. It may be called from any goroutine. The connection stays open for
// its owner to close.
func (c *Client) interrupt() {
	if d, ok := c.conn.(deadliner); ok {
		_ = d.SetDeadline(time.Now())
	}
}

// Close closes the transport. Later calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// wsTransport presents a WebSocket as a byte stream: every data message read
// becomes one chunk, every chunk written becomes one text message.
type wsTransport struct {
	conn    *websocket.Conn
	pending []byte
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Read(p []byte) (int, error) {
	for len(t.pending) == 0 {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		// Empty frames would look like an orderly close to the relay loop.
		t.pending = msg
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// SetDeadline goes to the network connection directly: the websocket.Conn
// deadline setters belong to its single reader and single writer, while
// net.Conn deadlines may be changed concurrently.
func (t *wsTransport) SetDeadline(d time.Time) error {
	return t.conn.UnderlyingConn().SetDeadline(d)
}

func (t *wsTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}
