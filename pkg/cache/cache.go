// Package cache provides the sharded LRU block cache beneath the table
// reader. Entries are pinned by reference-counted handles, so a block
// being read is never reclaimed out from under its iterator.
package cache

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	numShardBits = 4
	numShards    = 1 << numShardBits
)

// Cache is a fixed 16-way sharded LRU. Each shard has its own mutex,
// so lookups on different shards proceed in parallel.
type Cache struct {
	shards [numShards]shard
	lastID atomic.Uint64
}

// New creates a cache. Capacity is the total charge budget, divided
// equally across shards (rounded up).
func New(capacity int) *Cache {
	c := &Cache{}
	perShard := (capacity + numShards - 1) / numShards
	for i := range c.shards {
		c.shards[i].init(perShard)
	}
	return c
}

// keyHash is a stable 32-bit hash of the key; the top bits pick the
// shard and the rest index the shard's table.
func keyHash(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}

func (c *Cache) shard(hash uint32) *shard {
	return &c.shards[hash>>(32-numShardBits)]
}

// Insert maps key to value with the given charge. The returned handle
// is pinned; the deleter runs exactly once, when the entry leaves the
// cache and its last handle is released.
func (c *Cache) Insert(key []byte, value interface{}, charge int,
	deleter func(key []byte, value interface{})) *Handle {
	hash := keyHash(key)
	return c.shard(hash).insert(key, hash, value, charge, deleter)
}

// Lookup returns a pinned handle for key, or nil.
func (c *Cache) Lookup(key []byte) *Handle {
	hash := keyHash(key)
	return c.shard(hash).lookup(key, hash)
}

// Release unpins a handle returned by Insert or Lookup.
func (c *Cache) Release(h *Handle) {
	c.shard(h.hash).release(h)
}

// Erase removes key from the cache. Outstanding handles stay valid
// until released.
func (c *Cache) Erase(key []byte) {
	hash := keyHash(key)
	c.shard(hash).erase(key, hash)
}

// NewID returns a process-unique value. Table readers sharing one
// block cache prefix their block keys with an ID to keep key spaces
// disjoint.
func (c *Cache) NewID() uint64 {
	return c.lastID.Add(1)
}

// Prune discards every unpinned entry.
func (c *Cache) Prune() {
	for i := range c.shards {
		c.shards[i].prune()
	}
}

// TotalCharge sums the charge of all cached entries.
func (c *Cache) TotalCharge() int {
	total := 0
	for i := range c.shards {
		total += c.shards[i].totalCharge()
	}
	return total
}
