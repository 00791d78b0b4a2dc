// Package server implements the relaychat broadcast server.
//
// A single Acceptor takes TCP connections and puts them on a bounded handoff
// queue; when the queue is saturated the connection is dropped. A fixed Pool
// of workers takes clients off the queue, registers them, and relays every
// chunk a client sends to all registered clients until it disconnects. The
// HTTP side serves health and stats endpoints and a WebSocket bridge whose
// sockets join the same room through the same queue.
//
// The implementation is organized into files for configuration, clients,
// the acceptor, the worker pool, HTTP handlers and server lifecycle.
package server
