package membership

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry holds one user -> organization lookup
type cacheEntry struct {
	userID     string
	orgID      string
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// OrgCache is an in-memory LRU cache with TTL mapping user ids to
// organization ids. An empty organization is cached too, so users without
// one do not hit the database on every request.
type OrgCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewOrgCache creates a new OrgCache with specified max size and TTL
func NewOrgCache(maxSize int, ttl time.Duration) *OrgCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &OrgCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached organization of userID
func (c *OrgCache) Get(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[userID]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(userID)
		}
		return "", false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.orgID, true
}

// Set stores the organization of userID
func (c *OrgCache) Set(userID, orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[userID]; exists {
		entry.orgID = orgID
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		userID:     userID,
		orgID:      orgID,
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(userID)
	c.entries[userID] = entry
}

// Invalidate removes the entry for userID
func (c *OrgCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(userID)
}

// InvalidateOrg removes every entry pointing at orgID
func (c *OrgCache) InvalidateOrg(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, entry := range c.entries {
		if entry.orgID == orgID {
			c.removeEntry(userID)
		}
	}
}

// Clear removes all entries from the cache
func (c *OrgCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns cache statistics
func (c *OrgCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// must be called with lock held
func (c *OrgCache) removeEntry(userID string) {
	if entry, exists := c.entries[userID]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, userID)
	}
}

// must be called with lock held
func (c *OrgCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	userID := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, userID)
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *OrgCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for userID, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			c.removeEntry(userID)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until stopCh closes
func (c *OrgCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
