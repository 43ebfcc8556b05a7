package engine

import (
	"sync"
	"time"
)

// Cooldown enforces a minimum gap between alerts sharing a key.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(source, condition string, now time.Time, gap time.Duration) bool {
	return c.AllowKey(source+"|"+condition, now, gap)
}

func (c *Cooldown) AllowKey(key string, now time.Time, gap time.Duration) bool {
	if gap <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < gap {
			return false
		}
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Clear() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}
