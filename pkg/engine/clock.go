package engine

import (
	"sync"
	"time"
)

// Clock supplies the monotonically increasing height the engine timestamps
// quotes and aggregates with. The engine only reads it.
type Clock interface {
	Height() uint64
}

// ManualClock is a height source advanced explicitly by the caller. Used in
// tests and in deployments where an external environment drives the height.
type ManualClock struct {
	mu     sync.Mutex
	height uint64
}

var _ Clock = (*ManualClock)(nil)

// NewManualClock creates a manual clock starting at the given height.
func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{height: start}
}

// Height returns the current height.
func (c *ManualClock) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Advance moves the clock forward by delta heights.
func (c *ManualClock) Advance(delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += delta
}

// SetHeight sets the clock to h. Heights never move backwards; a lower value
// is ignored.
func (c *ManualClock) SetHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h > c.height {
		c.height = h
	}
}

// TickingClock derives the height from wall-clock time: one height unit per
// interval since the clock was created, on top of a base height.
type TickingClock struct {
	base     uint64
	start    time.Time
	interval time.Duration
}

var _ Clock = (*TickingClock)(nil)

// NewTickingClock creates a ticking clock starting at base that advances one
// height per interval.
func NewTickingClock(base uint64, interval time.Duration) *TickingClock {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TickingClock{
		base:     base,
		start:    time.Now(),
		interval: interval,
	}
}

// Height returns the current derived height.
func (c *TickingClock) Height() uint64 {
	return c.base + uint64(time.Since(c.start)/c.interval)
}
