package messaging

import "sync"

// MethodCounter is a bus.Observer that tallies queued and dequeued messages
// per method name.
type MethodCounter struct {
	mu       sync.Mutex
	queued   map[string]int64
	dequeued map[string]int64
}

// NewMethodCounter creates an empty counter.
func NewMethodCounter() *MethodCounter {
	return &MethodCounter{
		queued:   make(map[string]int64),
		dequeued: make(map[string]int64),
	}
}

func (c *MethodCounter) MessageWillBeQueued(method string) {
	c.mu.Lock()
	c.queued[method]++
	c.mu.Unlock()
}

func (c *MethodCounter) MessageWillBeDequeued(method string) {
	c.mu.Lock()
	c.dequeued[method]++
	c.mu.Unlock()
}

// MethodCount is the tally for one method.
type MethodCount struct {
	Queued   int64 `json:"queued"`
	Dequeued int64 `json:"dequeued"`
}

// Counts returns a copy of the tallies keyed by method.
func (c *MethodCounter) Counts() map[string]MethodCount {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]MethodCount, len(c.queued)+len(c.dequeued))
	for m, n := range c.queued {
		mc := out[m]
		mc.Queued = n
		out[m] = mc
	}
	for m, n := range c.dequeued {
		mc := out[m]
		mc.Dequeued = n
		out[m] = mc
	}
	return out
}
