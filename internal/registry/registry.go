package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrFull is returned by Register when the configured peer limit is reached.
	ErrFull = errors.New("registry: peer limit reached")

	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("registry: closed")
)

// Peer is a broadcast target. Peers are compared with == so Deregister can
// find them again.
type Peer interface {
	comparable
	Write(p []byte) (int, error)
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Failure records a peer that did not receive a broadcast payload.
type Failure[T Peer] struct {
	Peer T
	Err  error
}

// BroadcastError lists every peer a broadcast failed to reach.
type BroadcastError[T Peer] struct {
	Failures []Failure[T]
}

func (e *BroadcastError[T]) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Err.Error())
	}
	return fmt.Sprintf("broadcast failed for %d peer(s): %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual write errors to errors.Is and errors.As.
func (e *BroadcastError[T]) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	maxPeers     int
	writeTimeout time.Duration
	logger       *slog.Logger
}

// WithMaxPeers caps the number of registered peers. Zero means no limit.
func WithMaxPeers(n int) Option {
	return func(o *options) { o.maxPeers = n }
}

// WithWriteTimeout sets a deadline on each broadcast write for peers that
// support SetWriteDeadline. Zero disables deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Registry is the set of active peers. The zero value is not usable; call New.
type Registry[T Peer] struct {
	mu     sync.Mutex
	peers  []T
	closed atomic.Bool

	maxPeers     int
	writeTimeout time.Duration
	logger       *slog.Logger
}

// New creates an empty registry.
func New[T Peer](opts ...Option) *Registry[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Registry[T]{
		maxPeers:     o.maxPeers,
		writeTimeout: o.writeTimeout,
		logger:       o.logger,
	}
}

// Register adds p to the active set. On error the caller still owns p and is
// expected to close it without serving it.
func (r *Registry[T]) Register(p T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrClosed
	}
	if r.maxPeers > 0 && len(r.peers) >= r.maxPeers {
		return ErrFull
	}

	r.peers = append(r.peers, p)
	return nil
}

// Deregister removes the first occurrence of p. Removing a peer that is not
// registered is a no-op.
func (r *Registry[T]) Deregister(p T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, peer := range r.peers {
		if peer != p {
			continue
		}
		last := len(r.peers) - 1
		r.peers[i] = r.peers[last]
		var zero T
		r.peers[last] = zero
		r.peers = r.peers[:last]
		return
	}
}

// Broadcast writes payload to every registered peer. It returns a
// *BroadcastError naming each peer whose write failed or came up short.
// Failed peers stay registered.
func (r *Registry[T]) Broadcast(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fanOut(payload, func(T) bool { return false })
}

// BroadcastExcept is Broadcast with sender left out of the fan-out.
func (r *Registry[T]) BroadcastExcept(sender T, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fanOut(payload, func(p T) bool { return p == sender })
}

// Len returns the number of registered peers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Count reports how many times p is registered.
func (r *Registry[T]) Count(p T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, peer := range r.peers {
		if peer == p {
			n++
		}
	}
	return n
}

// Close makes further Register calls fail with ErrClosed. Peers already
// registered remain until their owners deregister them. Close does not take
// the lock, so it returns even while a broadcast is stuck on a slow peer.
func (r *Registry[T]) Close() {
	r.closed.Store(true)
}

// fanOut must be called with the lock held.
func (r *Registry[T]) fanOut(payload []byte, skip func(T) bool) error {
	var failures []Failure[T]
	for _, p := range r.peers {
		if skip(p) {
			continue
		}
		if err := r.write(p, payload); err != nil {
			failures = append(failures, Failure[T]{Peer: p, Err: err})
		}
	}

	if len(failures) > 0 {
		r.logger.Debug("broadcast incomplete",
			"peers", len(r.peers),
			"failed", len(failures),
		)
		return &BroadcastError[T]{Failures: failures}
	}
	return nil
}

func (r *Registry[T]) write(p T, payload []byte) error {
	if r.writeTimeout > 0 {
		if d, ok := any(p).(writeDeadliner); ok {
			if err := d.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
		}
	}

	n, err := p.Write(payload)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return io.ErrShortWrite
	}
	return nil
}
