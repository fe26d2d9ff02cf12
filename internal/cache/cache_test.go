package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pointq/resource"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(30, nil)

	c.Put(Key{"v1", 0}, make([]byte, 10))
	c.Put(Key{"v1", 1}, make([]byte, 10))
	c.Put(Key{"v2", 0}, make([]byte, 10))

	_, ok := c.Get(Key{"v1", 0})
	require.True(t, ok)

	c.Put(Key{"v2", 1}, make([]byte, 10))

	_, ok = c.Get(Key{"v1", 1})
	assert.False(t, ok, "least recently used block is evicted")
	_, ok = c.Get(Key{"v1", 0})
	assert.True(t, ok)
	assert.Equal(t, int64(30), c.Size())
	assert.Equal(t, Stats{Hits: 2, Misses: 1, Evictions: 1}, c.Stats())
}

func TestLRU_Budget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRU(50, rc)
	k := Key{"voxel", 1}

	c.Put(k, make([]byte, 60))
	_, ok := c.Get(k)
	assert.False(t, ok, "block above the capacity is skipped")

	c.Put(k, make([]byte, 10))
	c.Put(k, make([]byte, 20))
	assert.Equal(t, int64(20), c.Size())
	c.Put(k, make([]byte, 5))
	assert.Equal(t, int64(5), c.Size())
	assert.Equal(t, int64(5), rc.MemoryUsage())

	tight := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c2 := NewLRU(50, tight)
	c2.Put(k, make([]byte, 8))
	c2.Put(k, make([]byte, 12))
	got, ok := c2.Get(k)
	require.True(t, ok)
	assert.Len(t, got, 8, "refused growth keeps the old block")

	require.NoError(t, c2.Close())
	assert.Zero(t, tight.MemoryUsage())
	assert.Zero(t, c2.Len())
}

func TestLRU_Drop(t *testing.T) {
	c := NewLRU(100, nil)
	c.Put(Key{"a", 0}, []byte("a0"))
	c.Put(Key{"a", 1}, []byte("a1"))
	c.Put(Key{"b", 0}, []byte("b0"))

	c.Drop("a")
	_, ok := c.Get(Key{"a", 0})
	assert.False(t, ok)
	_, ok = c.Get(Key{"a", 1})
	assert.False(t, ok)
	got, ok := c.Get(Key{"b", 0})
	require.True(t, ok)
	assert.Equal(t, "b0", string(got))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Size())

	c.Drop("missing")
	assert.Equal(t, 1, c.Len())
}

func TestSharded(t *testing.T) {
	c := NewSharded(64<<20, 0, nil)
	require.Len(t, c.shards, DefaultShards)

	for i := range 1000 {
		c.Put(Key{fmt.Sprintf("voxels/%d", i%100), int64(i)}, make([]byte, 64))
	}
	assert.Equal(t, int64(64*1000), c.Size())

	used := 0
	for _, sh := range c.shards {
		if sh.Len() > 0 {
			used++
		}
	}
	assert.Greater(t, used, 30)

	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob := fmt.Sprintf("fetch-%d", g)
			for i := range 200 {
				k := Key{blob, int64(i)}
				c.Put(k, []byte{byte(i)})
				got, ok := c.Get(k)
				if assert.True(t, ok) {
					assert.Equal(t, byte(i), got[0])
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(16*200), c.Stats().Hits)

	c.Drop("voxels/7")
	for i := 7; i < 1000; i += 100 {
		_, ok := c.Get(Key{"voxels/7", int64(i)})
		assert.False(t, ok)
	}

	require.NoError(t, c.Close())
	assert.Zero(t, c.Size())
}
