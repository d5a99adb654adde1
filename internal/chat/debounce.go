package chat

import (
	"sync"
	"time"

	"league-chat/internal/observability"
)

// Coalescer collapses bursts of writes into one delayed write. The first
// Submit arms a deadline of now+window; later submits before the deadline are
// merged into the pending value and never move the deadline.
type Coalescer[T any] struct {
	window time.Duration
	merge  func(pending, next T) T
	flush  func(T)

	mu      sync.Mutex
	pending T
	armed   bool
	timer   *time.Timer
}

// NewCoalescer builds a coalescer. merge combines the pending value with a new
// one; flush performs the write.
func NewCoalescer[T any](window time.Duration, merge func(pending, next T) T, flush func(T)) *Coalescer[T] {
	return &Coalescer[T]{window: window, merge: merge, flush: flush}
}

// Submit queues v.
func (c *Coalescer[T]) Submit(v T) {
	observability.IncCoalesced("submitted")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed {
		c.pending = c.merge(c.pending, v)
		return
	}
	c.pending = v
	c.armed = true
	c.timer = time.AfterFunc(c.window, c.fire)
}

// Flush writes the pending value now, if any.
func (c *Coalescer[T]) Flush() {
	c.fire()
}

// Stop drops the pending value without writing it.
func (c *Coalescer[T]) Stop() {
	c.take()
}

// Pending reports whether a write is scheduled.
func (c *Coalescer[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

func (c *Coalescer[T]) fire() {
	v, ok := c.take()
	if !ok {
		return
	}
	observability.IncCoalesced("flushed")
	c.flush(v)
}

func (c *Coalescer[T]) take() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if !c.armed {
		return zero, false
	}
	v := c.pending
	c.pending = zero
	c.armed = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return v, true
}

func laterOf(a, b time.Time) time.Time {
	if b.UnixMilli() > a.UnixMilli() {
		return b
	}
	return a
}
