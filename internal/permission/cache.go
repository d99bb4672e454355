package permission

import "sync"

// Cache is the client's read-only mirror of the host's set.
// It only changes when the host pushes; it is a UI hint, never a security boundary.
type Cache struct {
	mu       sync.RWMutex
	set      Set
	received bool
}

func NewCache() *Cache { return &Cache{} }

func (c *Cache) Replace(s Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = s
	c.received = true
}

func (c *Cache) Snapshot() Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

func (c *Cache) Has(n Name) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set.Has(n)
}

// Received reports whether the host has pushed at least once since the last Reset.
func (c *Cache) Received() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.received
}

func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = Set{}
	c.received = false
}
