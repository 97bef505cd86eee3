package clock

import "sync"

// LogicalClock is a scalar Lamport clock.
//
// Local events advance the clock by one; observing a peer's clock value
// sets it to max(local, observed) + 1. The value is monotonic for the
// lifetime of the clock - it never decreases and never resets.
//
// Each node owns exactly one LogicalClock and is its only mutator (the
// tick loop). Reads may come from other goroutines (progress reporting),
// so access is serialized with a mutex.
type LogicalClock struct {
	mu   sync.Mutex
	time int64
}

// New creates a clock starting at 0.
func New() *LogicalClock {
	return &LogicalClock{}
}

// NewAt creates a clock starting at a specific value.
func NewAt(start int64) *LogicalClock {
	return &LogicalClock{time: start}
}

// Tick advances the clock for a locally-originated event (internal event
// or message send) and returns the new value.
func (c *LogicalClock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Update applies the Lamport receive rule for an observed clock value:
// time = max(time, observed) + 1. Called exactly once per processed
// inbound message. Returns the new value, which always exceeds both the
// prior local value and the observed value.
func (c *LogicalClock) Update(observed int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if observed > c.time {
		c.time = observed
	}
	c.time++
	return c.time
}

// Now returns the current value without advancing it.
func (c *LogicalClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}
