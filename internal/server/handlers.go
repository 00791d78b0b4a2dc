// Package server exposes HTTP handlers, including the WebSocket bridge into
// the chat room, health checks and stats.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades the request and admits the socket through the
// same handoff queue as TCP clients. When the queue is saturated the socket is
// closed right after the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	client := NewClient(newWSTransport(conn), r.RemoteAddr, KindWebSocket)
	s.logger.Info("new connection", "conn_id", client.ID(), "remote", client.Addr(), "kind", KindWebSocket)
	s.admission.admit(client)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat server is running!")
}

// StatsHandler serves the current Stats as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.logger.Error("error writing stats response", "err", err)
	}
}
