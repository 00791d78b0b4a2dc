// Package queue implements the bounded handoff queue that sits between the
// connection acceptor and the worker pool.
//
// The queue is a fixed-size ring buffer with read and write cursors taken
// modulo its capacity. One slot always stays empty so that a full queue can be
// told apart from an empty one without a separate counter: a queue created
// with capacity C holds at most C-1 items.
//
// Producers never block. Enqueue on a saturated queue fails with ErrFull and
// the caller disposes of the item. Consumers block in Dequeue until an item
// arrives or the queue is closed.
package queue
