package replica

import "sync"

// Clock is a Lamport logical clock. tick() is used on every outbound
// message; observe() is used on every inbound message. No other writer is
// permitted to touch the counter.
type Clock struct {
	mu    sync.Mutex
	value uint64
}

// Tick increments the counter and returns the new value. Call this once per
// outbound message.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Observe folds a received clock value into the local one: the new value is
// max(local, received)+1.
func (c *Clock) Observe(received uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.value {
		c.value = received
	}
	c.value++
	return c.value
}

// Value returns the current counter without advancing it.
func (c *Clock) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
