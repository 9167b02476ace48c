package coordinator

import "ifacelsp/internal/iface"

// Cache maps module names to materialized locations. It is not safe for
// concurrent use: only the coordinator loop touches it. Entries are never
// evicted.
type Cache struct {
	entries map[iface.ModuleName]iface.Location
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[iface.ModuleName]iface.Location)}
}

// Lookup returns the location recorded for name.
func (c *Cache) Lookup(name iface.ModuleName) (iface.Location, bool) {
	loc, ok := c.entries[name]
	return loc, ok
}

// Insert records loc for name, replacing any previous entry.
func (c *Cache) Insert(name iface.ModuleName, loc iface.Location) {
	c.entries[name] = loc
}

// Len returns the number of recorded modules.
func (c *Cache) Len() int { return len(c.entries) }
