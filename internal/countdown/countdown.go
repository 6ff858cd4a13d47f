// Package countdown implements the quote expiry timer.
package countdown

import (
	"context"
	"sync"
	"time"
)

// Window is the lifetime of a locked quote.
const Window = 300 * time.Second

// RemainingAfter returns max(0, window - elapsed) truncated to whole seconds.
func RemainingAfter(window, elapsed time.Duration) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}
	left := (window - elapsed).Truncate(time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Countdown counts whole seconds down to zero. It only re-arms through Start, and once
// frozen it stays at zero until re-armed.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	armed     bool
	frozen    bool
}

// New returns an idle countdown.
func New() *Countdown {
	return &Countdown{}
}

// Start arms the countdown with d, rounded down to seconds.
func (c *Countdown) Start(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	c.remaining = secs
	c.armed = secs > 0
	c.frozen = false
}

// Tick decrements by one second. It reports true exactly once, on the tick that reaches zero.
func (c *Countdown) Tick() (expired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed || c.frozen || c.remaining <= 0 {
		return false
	}
	c.remaining--
	if c.remaining == 0 {
		c.armed = false
		return true
	}
	return false
}

// Freeze pins the countdown at zero and suppresses further expiry.
func (c *Countdown) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = 0
	c.armed = false
	c.frozen = true
}

// Stop disarms without freezing.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = 0
	c.armed = false
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Active reports whether ticks still decrement.
func (c *Countdown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed && !c.frozen
}

// Frozen reports whether Freeze was called since the last Start.
func (c *Countdown) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// Run calls tick every interval until ctx is cancelled.
func Run(ctx context.Context, interval time.Duration, tick func()) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
