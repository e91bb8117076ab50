package events

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses repeated envelopes within a TTL window, bounded by an LRU
// so a chatty device cannot grow memory without limit.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, ttl: ttl}
}

// IsDuplicate reports whether key was seen within the TTL, and records it.
func (d *Dedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok && time.Since(addedAt) < d.ttl {
		return true
	}
	d.cache.Add(key, time.Now())
	return false
}
