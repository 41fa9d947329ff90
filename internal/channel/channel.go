// Package channel puts small interfaces in front of native channels so a
// websocket connection's outbound frame queue can be swapped in tests and
// debug builds.
package channel

import "sync"

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(T)
	// TrySend delivers v without blocking and reports whether it was taken.
	TrySend(v T) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}

// Chan is a Channel over a native chan. With zero capacity, TrySend only
// succeeds when a receiver is already waiting.
type Chan[T any] struct {
	ch        chan T
	closeOnce sync.Once
}

func newChan[T any](size int) *Chan[T] {
	if size < 0 {
		size = 0
	}
	return &Chan[T]{ch: make(chan T, size)}
}

// Send blocks until v is buffered or received.
func (c *Chan[T]) Send(v T) {
	c.ch <- v
}

func (c *Chan[T]) TrySend(v T) bool {
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

func (c *Chan[T]) Receive() <-chan T {
	return c.ch
}

// Len is the number of queued values, always 0 when unbuffered.
func (c *Chan[T]) Len() int {
	return len(c.ch)
}

func (c *Chan[T]) Cap() int {
	return cap(c.ch)
}

// Close may be called more than once.
func (c *Chan[T]) Close() {
	c.closeOnce.Do(func() { close(c.ch) })
}
