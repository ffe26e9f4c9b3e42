package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceCache_NewInstanceCache(t *testing.T) {
	cache := NewInstanceCache()

	require.NotNil(t, cache)
	assert.NotNil(t, cache.states)
	assert.Equal(t, 0, cache.Len())
}

func TestInstanceCache_SetAndGet(t *testing.T) {
	cache := NewInstanceCache()
	at := time.Unix(100, 0)

	cache.Set("obj-1", core.InstanceState{Type: "T-72B", InAir: false}, at)

	got, seen, ok := cache.Get("obj-1")
	require.True(t, ok, "expected to find obj-1")
	assert.Equal(t, "T-72B", got.Type)
	assert.Equal(t, at, seen)
}

func TestInstanceCache_Get_NotFound(t *testing.T) {
	cache := NewInstanceCache()

	_, _, ok := cache.Get("missing")
	assert.False(t, ok, "expected not to find missing instance")
}

func TestInstanceCache_Overwrite(t *testing.T) {
	cache := NewInstanceCache()

	cache.Set("obj-1", core.InstanceState{Heading: 1}, time.Unix(1, 0))
	cache.Set("obj-1", core.InstanceState{Heading: 2}, time.Unix(2, 0))

	got, seen, ok := cache.Get("obj-1")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Heading)
	assert.Equal(t, time.Unix(2, 0), seen)
	assert.Equal(t, 1, cache.Len())
}

func TestInstanceCache_DeleteAndReset(t *testing.T) {
	cache := NewInstanceCache()

	cache.Set("a", core.InstanceState{}, time.Now())
	cache.Set("b", core.InstanceState{}, time.Now())

	cache.Delete("a")
	_, _, ok := cache.Get("a")
	assert.False(t, ok, "expected a to be deleted")
	assert.Equal(t, 1, cache.Len())

	cache.Reset()
	assert.Equal(t, 0, cache.Len())
}

func TestInstanceCache_Concurrent(t *testing.T) {
	cache := NewInstanceCache()
	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			cache.Set(core.ObjectID(fmt.Sprint(id)), core.InstanceState{}, time.Now())
		}(i)
		go func(id int) {
			defer wg.Done()
			cache.Get(core.ObjectID(fmt.Sprint(id)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, cache.Len())
}
