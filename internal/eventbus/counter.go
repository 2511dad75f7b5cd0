package eventbus

import (
	"context"
	"maps"
	"sync"
)

// Counter tallies events per type. Run consumes a subscription until ctx is
// done or the channel closes.
type Counter struct {
	mu     sync.Mutex
	counts map[string]uint64
	last   map[string]Event
}

func NewCounter() *Counter {
	return &Counter{counts: map[string]uint64{}, last: map[string]Event{}}
}

func (c *Counter) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

func (c *Counter) Observe(e Event) {
	c.mu.Lock()
	c.counts[e.Type]++
	c.last[e.Type] = e
	c.mu.Unlock()
}

// Counts returns a copy of the per-type totals.
func (c *Counter) Counts() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.counts)
}

// Last returns the most recent event of the given type.
func (c *Counter) Last(typ string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.last[typ]
	return e, ok
}
