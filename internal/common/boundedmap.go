package common

import "sync"

// BoundedCounter is a bounded string→count map with oldest-first eviction.
//
// Keys are remembered in insertion order; when the cap is exceeded the
// earliest-inserted key is dropped together with its count. This keeps
// long-running tag statistics at constant memory.
type BoundedCounter struct {
	mu     sync.Mutex
	cap    int
	counts map[string]int64
	order  []string
}

func NewBoundedCounter(capacity int) *BoundedCounter {
	if capacity <= 0 {
		capacity = 1
	}
	return &BoundedCounter{
		cap:    capacity,
		counts: make(map[string]int64, capacity),
	}
}

// Inc bumps the count for key, evicting the oldest key when full.
func (c *BoundedCounter) Inc(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.counts[key]; ok {
		c.counts[key]++
		return
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.counts, oldest)
	}
	c.counts[key] = 1
	c.order = append(c.order, key)
}

// Get returns the count for key (0 when absent or evicted).
func (c *BoundedCounter) Get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// Len returns the number of tracked keys.
func (c *BoundedCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Snapshot copies the current counts.
func (c *BoundedCounter) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
