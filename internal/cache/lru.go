package cache

import (
	"container/list"
	"sync"

	"github.com/hupe1980/pointq/resource"
)

var _ BlockCache = (*LRU)(nil)

// LRU is a BlockCache bounded in bytes that evicts the least recently used
// block. Cached bytes are charged to the resource controller, if any.
type LRU struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	order    *list.List
	blobs    map[string]map[int64]*list.Element
	rc       *resource.Controller
	stats    Stats
}

type block struct {
	key  Key
	data []byte
}

// NewLRU creates an LRU holding at most capacity bytes.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		blobs:    make(map[string]map[int64]*list.Element),
		rc:       rc,
	}
}

func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.blobs[key.Blob][key.Block]; ok {
		c.stats.Hits++
		c.order.MoveToFront(e)
		return e.Value.(*block).data, true
	}
	c.stats.Misses++
	return nil, false
}

// Put caches b. Blocks above the capacity, and blocks the memory budget
// refuses, are skipped; a refused replacement keeps the old block.
func (c *LRU) Put(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(b))
	if e, ok := c.blobs[key.Blob][key.Block]; ok {
		blk := e.Value.(*block)
		if err := c.rc.ResizeMemory(int64(len(blk.data)), n); err != nil {
			return
		}
		c.size += n - int64(len(blk.data))
		blk.data = b
		c.order.MoveToFront(e)
		c.shrink(c.capacity)
		return
	}
	if n > c.capacity {
		return
	}

	c.shrink(c.capacity - n)
	if err := c.rc.AcquireMemory(n); err != nil {
		return
	}
	blocks := c.blobs[key.Blob]
	if blocks == nil {
		blocks = make(map[int64]*list.Element)
		c.blobs[key.Blob] = blocks
	}
	blocks[key.Block] = c.order.PushFront(&block{key: key, data: b})
	c.size += n
}

func (c *LRU) Drop(blob string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.blobs[blob] {
		c.remove(e)
	}
}

func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close drops every block and returns its bytes to the controller.
func (c *LRU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.order.Len() > 0 {
		c.remove(c.order.Back())
	}
	return nil
}

// Size returns the cached bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached blocks.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// shrink evicts until at most limit bytes are cached.
func (c *LRU) shrink(limit int64) {
	for c.size > limit && c.order.Len() > 0 {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
}

func (c *LRU) remove(e *list.Element) {
	blk := c.order.Remove(e).(*block)
	blocks := c.blobs[blk.key.Blob]
	delete(blocks, blk.key.Block)
	if len(blocks) == 0 {
		delete(c.blobs, blk.key.Blob)
	}
	c.size -= int64(len(blk.data))
	c.rc.ReleaseMemory(int64(len(blk.data)))
}
