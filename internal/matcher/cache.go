package matcher

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	match  Match
	ok     bool
	stored time.Time
}

// resultCache is a bounded LRU of classification results keyed by exact
// path. Entries older than ttl read as misses.
type resultCache struct {
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
	now func() time.Time
}

func newResultCache(size int, ttl time.Duration, now func() time.Time) (*resultCache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{lru: c, ttl: ttl, now: now}, nil
}

func (c *resultCache) get(path string) (cacheEntry, bool) {
	e, ok := c.lru.Get(path)
	if !ok {
		return cacheEntry{}, false
	}
	if c.now().Sub(e.stored) > c.ttl {
		c.lru.Remove(path)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *resultCache) put(path string, m Match, ok bool) {
	c.lru.Add(path, cacheEntry{match: m, ok: ok, stored: c.now()})
}

func (c *resultCache) purge() {
	c.lru.Purge()
}

func (c *resultCache) len() int {
	return c.lru.Len()
}
