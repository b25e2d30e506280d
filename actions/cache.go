package actions

import (
	"strings"
	"sync"
)

// ViewCache holds externally visible read-view results keyed by string.
// Completed cartera runs invalidate every entry under the "cartera" prefix so
// readers never serve a view computed against the replaced window.
type ViewCache struct {
	sync.RWMutex
	internal map[string]interface{}
}

func NewViewCache() *ViewCache {
	return &ViewCache{internal: make(map[string]interface{})}
}

func (c *ViewCache) Put(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.internal[key] = value
}

func (c *ViewCache) Get(key string) (interface{}, bool) {
	c.RLock()
	defer c.RUnlock()
	v, ok := c.internal[key]
	return v, ok
}

// InvalidatePrefix removes every cached view whose key starts with prefix and
// returns the number of entries dropped.
func (c *ViewCache) InvalidatePrefix(prefix string) int {
	c.Lock()
	defer c.Unlock()
	n := 0
	for k := range c.internal {
		if strings.HasPrefix(k, prefix) {
			delete(c.internal, k)
			n++
		}
	}
	return n
}

func (c *ViewCache) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.internal)
}
