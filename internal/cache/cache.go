package cache

import (
	"sync"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
)

type instanceEntry struct {
	state core.InstanceState
	seen  time.Time
}

// InstanceCache holds the latest state the host pushed for each live object.
// The tick loop reads it instead of querying the host for every unit.
type InstanceCache struct {
	m      sync.Mutex
	states map[core.ObjectID]instanceEntry
}

func NewInstanceCache() *InstanceCache {
	return &InstanceCache{
		states: make(map[core.ObjectID]instanceEntry),
	}
}

func (c *InstanceCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.states = make(map[core.ObjectID]instanceEntry)
}

// Get returns the cached state of id and when it was last updated.
func (c *InstanceCache) Get(id core.ObjectID) (core.InstanceState, time.Time, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if e, ok := c.states[id]; ok {
		return e.state, e.seen, true
	}
	return core.InstanceState{}, time.Time{}, false
}

func (c *InstanceCache) Set(id core.ObjectID, s core.InstanceState, at time.Time) {
	c.m.Lock()
	defer c.m.Unlock()
	c.states[id] = instanceEntry{state: s, seen: at}
}

func (c *InstanceCache) Delete(id core.ObjectID) {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.states, id)
}

func (c *InstanceCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.states)
}
