package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	testOriginURL = "http://localhost:8080"
	testTimeout   = 3 * time.Second
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runningServer is a Server serving on a loopback listener for one test.
type runningServer struct {
	srv    *Server
	addr   string
	cancel context.CancelFunc
	done   chan error

	stopOnce sync.Once
	stopErr  error
}

// startServer runs a server with the HTTP side disabled. mutate may adjust the
// configuration before the server is built.
func startServer(t *testing.T, mutate func(*Config)) *runningServer {
	t.Helper()

	cfg := NewConfig()
	cfg.HTTPAddr = ""
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningServer{
		srv:    NewServer(cfg, testLogger()),
		addr:   ln.Addr().String(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() {
		rs.done <- rs.srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() { _ = rs.stop() })
	return rs
}

// stop cancels the server and waits for Serve to return.
func (rs *runningServer) stop() error {
	rs.stopOnce.Do(func() {
		rs.cancel()
		select {
		case rs.stopErr = <-rs.done:
		case <-time.After(testTimeout):
			rs.stopErr = context.DeadlineExceeded
		}
	})
	return rs.stopErr
}

// dial opens a TCP client connection that is closed when the test ends.
func dial(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, testTimeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the test timeout passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// waitStats polls the server's stats until cond holds.
func (rs *runningServer) waitStats(t *testing.T, what string, cond func(Stats) bool) {
	t.Helper()
	waitFor(t, what, func() bool { return cond(rs.srv.Stats()) })
}

// readExactly reads n bytes from conn within the test timeout.
func readExactly(t *testing.T, conn net.Conn, n int) string {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Failed to read %d bytes: %v", n, err)
	}
	return string(buf)
}

// readLines reads n newline-terminated lines from r.
func readLines(t *testing.T, conn net.Conn, r *bufio.Reader, n int) []string {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read line %d: %v", i, err)
		}
		lines = append(lines, line)
	}
	return lines
}

// expectClosed asserts the server closed conn without sending anything.
func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if err == nil {
		t.Fatalf("Expected closed connection, read %d bytes", n)
	}
	if isTimeout(err) {
		t.Fatal("Expected closed connection, read timed out instead")
	}
}

// expectSilent asserts nothing arrives on conn for a short while.
func expectSilent(t *testing.T, conn net.Conn) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err == nil {
		t.Fatalf("Expected no data, got %q", buf[:n])
	}
	if !isTimeout(err) {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

// connectWebSocket dials url with an allowed Origin header.
func connectWebSocket(url string) (*websocket.Conn, error) {
	return connectWebSocketWithOrigin(url, testOriginURL)
}

func connectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: testTimeout,
	}

	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}
