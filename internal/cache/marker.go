package cache

import (
	"cmp"
	"slices"
	"sync"

	"github.com/OCAP2/campaign/pkg/core"
)

// MarkCache tracks the map marks currently placed through the host so they
// can be replayed after a reconnect
type MarkCache struct {
	mu    sync.RWMutex
	marks map[core.MarkID]core.Mark
}

// NewMarkCache creates a new MarkCache
func NewMarkCache() *MarkCache {
	return &MarkCache{
		marks: make(map[core.MarkID]core.Mark),
	}
}

// Get retrieves a mark by id
func (c *MarkCache) Get(id core.MarkID) (core.Mark, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.marks[id]
	return m, ok
}

// Set stores a mark under its id
func (c *MarkCache) Set(m core.Mark) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[m.ID] = m
}

// Delete removes a mark, reporting whether it was present
func (c *MarkCache) Delete(id core.MarkID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.marks[id]
	delete(c.marks, id)
	return ok
}

// All returns every mark ordered by id
func (c *MarkCache) All() []core.Mark {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Mark, 0, len(c.marks))
	for _, m := range c.marks {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b core.Mark) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Reset clears all marks from the cache
func (c *MarkCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks = make(map[core.MarkID]core.Mark)
}
