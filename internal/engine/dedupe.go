package engine

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// DedupeCache remembers recently seen frame keys. Expired keys are purged
// on write instead of by a janitor goroutine.
type DedupeCache struct {
	items  *cache.Cache
	writes int
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: cache.New(cache.NoExpiration, 0)}
}

func frameKey(source string, seq uint64) string {
	return source + "|" + strconv.FormatUint(seq, 10)
}

// Seen reports whether key was recorded within ttl, and records it otherwise.
func (d *DedupeCache) Seen(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	if err := d.items.Add(key, struct{}{}, ttl); err != nil {
		return true
	}
	d.writes++
	if d.writes >= 10000 {
		d.items.DeleteExpired()
		d.writes = 0
	}
	return false
}

func (d *DedupeCache) Flush() {
	d.items.Flush()
	d.writes = 0
}
