package distribution

import (
	"strings"
	"sync"

	"wombat/api/internal/store"
)

const defaultCacheSize = 512

// Cache holds the governance entries the service has seen, newest last,
// bounded by size. Reads stay available regardless of which tier is up.
type Cache struct {
	mu      sync.RWMutex
	max     int
	entries map[string]store.GovernanceLogEntry
	order   []string
}

func NewCache(max int) *Cache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &Cache{max: max, entries: make(map[string]store.GovernanceLogEntry)}
}

func (c *Cache) Put(entry store.GovernanceLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.entries[entry.ID]; !seen {
		c.order = append(c.order, entry.ID)
	}
	c.entries[entry.ID] = entry

	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.entries[id]; !seen {
		return
	}
	delete(c.entries, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache) Get(id string) (store.GovernanceLogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	return entry, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Search returns cached entries whose summary, actor, entry type, or anchor
// reference contains q, case-insensitive, newest first.
func (c *Cache) Search(q string) []store.GovernanceLogEntry {
	q = strings.ToLower(strings.TrimSpace(q))

	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]store.GovernanceLogEntry, 0)
	for i := len(c.order) - 1; i >= 0; i-- {
		entry := c.entries[c.order[i]]
		if q == "" || entryMatches(entry, q) {
			matches = append(matches, entry)
		}
	}
	return matches
}

func entryMatches(entry store.GovernanceLogEntry, q string) bool {
	if strings.Contains(strings.ToLower(entry.Summary), q) {
		return true
	}
	if strings.Contains(strings.ToLower(entry.Actor), q) {
		return true
	}
	if strings.Contains(strings.ToLower(entry.EntryType), q) {
		return true
	}
	if entry.MemoryAnchorID != nil && strings.Contains(strings.ToLower(*entry.MemoryAnchorID), q) {
		return true
	}
	return false
}
