package input

import (
	"sync"
	"time"
)

// Coalescer collapses bursts of notifications into one flush per window.
// The first notification starts the window; the flush receives how many arrived.
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	count   int
	timer   *time.Timer
	started bool
	closed  bool
	onFlush func(count int)
}

// NewCoalescer creates a Coalescer. A zero window flushes on every notification.
func NewCoalescer(window time.Duration, onFlush func(count int)) *Coalescer {
	return &Coalescer{
		window:  window,
		onFlush: onFlush,
	}
}

// Notify records one notification and starts the window timer if idle.
func (c *Coalescer) Notify() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.count++

	if c.window <= 0 {
		c.count = 0
		c.mu.Unlock()
		c.onFlush(1)
		return
	}

	if !c.started {
		c.timer = time.AfterFunc(c.window, c.flush)
		c.started = true
	}
	c.mu.Unlock()
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	count := c.count
	c.count = 0
	c.started = false
	closed := c.closed
	c.mu.Unlock()

	if count > 0 && !closed {
		c.onFlush(count)
	}
}

// Close stops the timer and drops pending notifications.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.count = 0
	if c.timer != nil {
		c.timer.Stop()
	}
}
