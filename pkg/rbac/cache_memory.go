package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of entries held by a MemoryCache
const DefaultCacheSize = 10000

type memoryKey struct {
	kind   CacheKind
	userID string
}

type memoryEntry struct {
	values    []string
	expiresAt time.Time
}

// MemoryCache is an in-process LRU cache with a fixed TTL and an injectable clock
type MemoryCache struct {
	entries *lru.Cache[memoryKey, memoryEntry]
	ttl     time.Duration
	now     Clock

	mu      sync.Mutex
	gens    map[string]uint64
	maxGens int
	epoch   uint64
}

// NewMemoryCache creates a memory cache. Zero size or ttl fall back to the defaults
// and a nil clock uses time.Now.
func NewMemoryCache(size int, ttl time.Duration, clock Clock) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}

	entries, err := lru.New[memoryKey, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}

	return &MemoryCache{
		entries: entries,
		ttl:     ttl,
		now:     clock,
		gens:    make(map[string]uint64),
		maxGens: size,
	}, nil
}

// Get returns the cached values when present and not expired
func (c *MemoryCache) Get(_ context.Context, kind CacheKind, userID string) ([]string, bool, error) {
	key := memoryKey{kind: kind, userID: userID}
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, false, nil
	}
	return copyStrings(entry.values), true, nil
}

// Generation returns the user's current generation
func (c *MemoryCache) Generation(_ context.Context, userID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.gens[userID], nil
}

// Set stores values unless the user's generation has moved past gen
func (c *MemoryCache) Set(_ context.Context, kind CacheKind, userID string, values []string, gen uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch+c.gens[userID] != gen {
		return nil
	}
	c.entries.Add(memoryKey{kind: kind, userID: userID}, memoryEntry{
		values:    copyStrings(values),
		expiresAt: c.now().Add(c.ttl),
	})
	return nil
}

// Invalidate drops both views of the given users and advances their generation
func (c *MemoryCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range userIDs {
		c.gens[id]++
		c.entries.Remove(memoryKey{kind: CacheRoles, userID: id})
		c.entries.Remove(memoryKey{kind: CachePermissions, userID: id})
	}
	if len(c.gens) > c.maxGens {
		c.compactLocked()
	}
	return nil
}

// Purge empties the cache
func (c *MemoryCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compactLocked()
	c.entries.Purge()
	return nil
}

// compactLocked folds every per-user generation into the epoch. Each user's
// generation still moves strictly forward, so a load started before the
// compaction cannot populate the cache after it.
func (c *MemoryCache) compactLocked() {
	var top uint64
	for _, gen := range c.gens {
		if gen > top {
			top = gen
		}
	}
	c.epoch += top + 1
	clear(c.gens)
}

// SweepExpired removes expired entries and returns how many were dropped
func (c *MemoryCache) SweepExpired() int {
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && !now.Before(entry.expiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, expired ones included
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

var _ Cache = (*MemoryCache)(nil)
