package memory

import (
	"context"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type window struct {
	start   time.Time
	count   int
	resetAt time.Time
}

// Counter is an in-memory fixed-window rate counter. One mutex guards the
// whole map, so the check-and-increment for a token is a single critical
// section and concurrent admissions can never exceed the limit.
type Counter struct {
	mu    sync.Mutex
	items map[string]window
}

func NewCounter() *Counter {
	return &Counter{items: make(map[string]window)}
}

func (c *Counter) Admit(ctx context.Context, tokenID string, limit int, windowSize time.Duration, now time.Time) (domain.RateDecision, error) {
	if err := ctx.Err(); err != nil {
		return domain.RateDecision{}, domain.ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 1
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	curr, ok := c.items[tokenID]
	if !ok || !now.Before(curr.resetAt) {
		curr = window{start: now, count: 0, resetAt: now.Add(windowSize)}
	}

	if curr.count >= limit {
		c.items[tokenID] = curr
		return domain.RateDecision{Admitted: false, Remaining: 0, ResetAt: curr.resetAt}, nil
	}

	curr.count++
	c.items[tokenID] = curr
	return domain.RateDecision{Admitted: true, Remaining: limit - curr.count, ResetAt: curr.resetAt}, nil
}

// Sweep drops windows whose reset time has passed. Callers may run it
// periodically to keep the map bounded.
func (c *Counter) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, curr := range c.items {
		if !now.Before(curr.resetAt) {
			delete(c.items, key)
		}
	}
}
