package ingest

import (
	"sync"
	"time"
)

// collector records every payload handed to it.
type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) handle(payload []byte) {
	c.mu.Lock()
	c.payloads = append(c.payloads, string(payload))
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// waitForCondition polls until fn returns true or the timeout elapses.
func waitForCondition(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
