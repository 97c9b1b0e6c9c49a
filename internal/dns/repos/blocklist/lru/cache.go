// Package lru implements the per-snapshot decision cache.
package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist"
)

// newLRU is a seam for tests.
var newLRU = func(size int, onEvict func(string, domain.BlockDecision)) (*lru.Cache[string, domain.BlockDecision], error) {
	return lru.NewWithEvict(size, onEvict)
}

type decisionCache struct {
	lru       *lru.Cache[string, domain.BlockDecision]
	capacity  int
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a DecisionCache holding up to size decisions. A size <= 0
// returns a disabled cache that always misses.
func New(size int) (blocklist.DecisionCache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}
	dc := &decisionCache{capacity: size}
	cache, err := newLRU(size, func(string, domain.BlockDecision) {
		dc.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return dc, nil
}

// Factory returns a constructor suitable for blocklist.Options.NewCache.
// If a cache cannot be created the snapshot runs without one.
func Factory(size int) func() blocklist.DecisionCache {
	return func() blocklist.DecisionCache {
		c, err := New(size)
		if err != nil {
			return disabledCache{}
		}
		return c
	}
}

func (c *decisionCache) Get(name string) (domain.BlockDecision, bool) {
	if val, ok := c.lru.Get(name); ok {
		c.hits.Add(1)
		return val, true
	}
	c.misses.Add(1)
	return domain.BlockDecision{}, false
}

func (c *decisionCache) Put(name string, d domain.BlockDecision) {
	c.lru.Add(name, d)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

func (c *decisionCache) Stats() blocklist.CacheStats {
	return blocklist.CacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

type disabledCache struct{}

func (disabledCache) Get(string) (domain.BlockDecision, bool) { return domain.BlockDecision{}, false }
func (disabledCache) Put(string, domain.BlockDecision)        {}
func (disabledCache) Len() int                                { return 0 }
func (disabledCache) Stats() blocklist.CacheStats             { return blocklist.CacheStats{} }

var (
	_ blocklist.DecisionCache = (*decisionCache)(nil)
	_ blocklist.DecisionCache = disabledCache{}
)
