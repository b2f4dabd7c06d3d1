package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/hupe1980/searchexec/model"
	"github.com/hupe1980/searchexec/resource"
)

// LRU is a BlockCache evicting the least recently used block once the
// configured byte capacity is exceeded.
type LRU struct {
	mu       sync.Mutex
	capacity int64
	bytes    int64
	blocks   map[BlockKey]*list.Element
	recency  *list.List // front is most recent
	rc       *resource.Controller

	hits, misses int64
}

type cached struct {
	key  BlockKey
	data []byte
}

// NewLRU creates a cache holding at most capacity bytes.
// If rc is not nil, cached bytes are charged to its work memory.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity: capacity,
		blocks:   make(map[BlockKey]*list.Element),
		recency:  list.New(),
		rc:       rc,
	}
}

// Get returns a cached block.
func (c *LRU) Get(_ context.Context, key BlockKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.blocks[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.recency.MoveToFront(el)
	return el.Value.(*cached).data, true
}

// Set caches a block. Blocks larger than the capacity, or blocks the
// controller has no memory for, are not cached.
func (c *LRU) Set(_ context.Context, key BlockKey, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(b))
	if n > c.capacity {
		return
	}
	if el, ok := c.blocks[key]; ok {
		c.drop(el)
	}
	// Evict first so the freed bytes are back in the controller.
	for c.bytes+n > c.capacity && c.recency.Len() > 0 {
		c.drop(c.recency.Back())
	}
	if !c.rc.TryReserve(n) {
		return
	}
	c.blocks[key] = c.recency.PushFront(&cached{key: key, data: b})
	c.bytes += n
}

// DropSegment implements BlockCache.
func (c *LRU) DropSegment(seg model.SegmentID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, el := range c.blocks {
		if key.SegmentID == seg {
			c.drop(el)
			dropped++
		}
	}
	return dropped
}

// Stats returns a snapshot of the cache counters.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Blocks: c.recency.Len(), Bytes: c.bytes}
}

func (c *LRU) drop(el *list.Element) {
	c.recency.Remove(el)
	b := el.Value.(*cached)
	delete(c.blocks, b.key)
	c.bytes -= int64(len(b.data))
	c.rc.Release(int64(len(b.data)))
}
