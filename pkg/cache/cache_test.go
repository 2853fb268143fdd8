package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keysInShard generates n distinct keys that all hash into the same
// shard, so eviction order is deterministic for the test.
func keysInShard(t *testing.T, shard uint32, n int) [][]byte {
	t.Helper()
	var out [][]byte
	for i := 0; len(out) < n; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if keyHash(key)>>(32-numShardBits) == shard {
			out = append(out, key)
		}
		require.Less(t, i, 1_000_000, "could not find enough keys for shard %d", shard)
	}
	return out
}

type deleterLog struct {
	mu    sync.Mutex
	freed map[string]int
}

func newDeleterLog() *deleterLog {
	return &deleterLog{freed: make(map[string]int)}
}

func (d *deleterLog) fn(key []byte, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freed[string(key)]++
}

func (d *deleterLog) count(key []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freed[string(key)]
}

func (d *deleterLog) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.freed {
		n += c
	}
	return n
}

func TestCacheHitAndMiss(t *testing.T) {
	c := New(1000)
	dl := newDeleterLog()

	assert.Nil(t, c.Lookup([]byte("absent")))

	h := c.Insert([]byte("k"), "v1", 1, dl.fn)
	c.Release(h)

	h = c.Lookup([]byte("k"))
	require.NotNil(t, h)
	assert.Equal(t, "v1", h.Value())
	c.Release(h)

	// Inserting the same key again displaces the old entry.
	h = c.Insert([]byte("k"), "v2", 1, dl.fn)
	c.Release(h)
	assert.Equal(t, 1, dl.count([]byte("k")), "displaced entry freed once")

	h = c.Lookup([]byte("k"))
	require.NotNil(t, h)
	assert.Equal(t, "v2", h.Value())
	c.Release(h)
}

func TestCacheErase(t *testing.T) {
	c := New(1000)
	dl := newDeleterLog()

	c.Release(c.Insert([]byte("k"), 1, 1, dl.fn))
	c.Erase([]byte("k"))
	assert.Equal(t, 1, dl.count([]byte("k")))
	assert.Nil(t, c.Lookup([]byte("k")))

	// Erasing an absent key is a no-op.
	c.Erase([]byte("k"))
	assert.Equal(t, 1, dl.count([]byte("k")))
}

// TestCacheEvictionWithPinning drives one shard past capacity while
// two handles stay pinned: eviction may only take unpinned entries,
// and releasing a pin makes the entry reclaimable again.
func TestCacheEvictionWithPinning(t *testing.T) {
	c := New(4 * numShards) // 4 units of capacity per shard
	dl := newDeleterLog()

	keys := keysInShard(t, 7, 11)
	shard := &c.shards[7]

	var h3, h5 *Handle
	for i := 0; i < 10; i++ {
		h := c.Insert(keys[i], i, 1, dl.fn)
		switch i {
		case 3:
			h3 = h
		case 5:
			h5 = h
		default:
			c.Release(h)
		}
	}

	// Each insert over capacity pops the oldest reclaimable entry; the
	// two pinned entries always count against the charge but are never
	// eviction candidates, so the shard settles at two lru entries plus
	// the two pins.
	assert.Equal(t, 4, shard.totalCharge(), "2 reclaimable + 2 pinned")
	assert.Equal(t, 6, dl.total(), "oldest unpinned entries evicted")
	assert.Equal(t, 0, dl.count(keys[3]))
	assert.Equal(t, 0, dl.count(keys[5]))

	// The pinned handles remain readable regardless of eviction.
	assert.Equal(t, 3, h3.Value())
	assert.Equal(t, 5, h5.Value())

	// The newest unpinned entries survived.
	for _, i := range []int{8, 9} {
		h := c.Lookup(keys[i])
		require.NotNil(t, h, "key %d should be cached", i)
		c.Release(h)
	}

	// Releasing h3 moves it to the lru list; the next insert evicts the
	// oldest reclaimable entry, not h5.
	c.Release(h3)
	c.Release(c.Insert(keys[10], 10, 1, dl.fn))
	assert.Equal(t, 7, dl.total())
	assert.Equal(t, 0, dl.count(keys[5]), "pinned entry must survive")
	assert.Equal(t, 0, dl.count(keys[3]), "just-released entry is newest on lru")

	c.Release(h5)
}

func TestCacheDeleterRunsExactlyOnce(t *testing.T) {
	c := New(2 * numShards)
	dl := newDeleterLog()

	var keys [][]byte
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("entry%d", i))
		keys = append(keys, key)
		c.Release(c.Insert(key, i, 1, dl.fn))
	}
	c.Prune()

	for _, key := range keys {
		assert.Equal(t, 1, dl.count(key), "key %s freed exactly once", key)
	}
}

func TestCachePinnedSurvivesErase(t *testing.T) {
	c := New(1000)
	dl := newDeleterLog()

	h := c.Insert([]byte("k"), "v", 1, dl.fn)
	c.Erase([]byte("k"))

	// The entry left the cache but the handle still pins the value.
	assert.Equal(t, 0, dl.count([]byte("k")))
	assert.Equal(t, "v", h.Value())
	assert.Nil(t, c.Lookup([]byte("k")))

	c.Release(h)
	assert.Equal(t, 1, dl.count([]byte("k")))
}

func TestCacheTotalCharge(t *testing.T) {
	c := New(100 * numShards)
	dl := newDeleterLog()

	assert.Equal(t, 0, c.TotalCharge())
	c.Release(c.Insert([]byte("a"), 1, 10, dl.fn))
	c.Release(c.Insert([]byte("b"), 2, 30, dl.fn))
	assert.Equal(t, 40, c.TotalCharge())

	c.Erase([]byte("a"))
	assert.Equal(t, 30, c.TotalCharge())

	c.Prune()
	assert.Equal(t, 0, c.TotalCharge())
}

func TestCachePruneSparesPinned(t *testing.T) {
	c := New(1000)
	dl := newDeleterLog()

	pinned := c.Insert([]byte("pinned"), 1, 1, dl.fn)
	c.Release(c.Insert([]byte("loose"), 2, 1, dl.fn))

	c.Prune()
	assert.Equal(t, 1, dl.count([]byte("loose")))
	assert.Equal(t, 0, dl.count([]byte("pinned")))

	// Still lookupable: prune only touches the lru list.
	h := c.Lookup([]byte("pinned"))
	require.NotNil(t, h)
	c.Release(h)
	c.Release(pinned)
}

func TestCacheNewID(t *testing.T) {
	c := New(100)
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id := c.NewID()
		assert.False(t, seen[id], "id %d repeated", id)
		seen[id] = true
	}
}

func TestCacheZeroCapacity(t *testing.T) {
	c := New(0)
	dl := newDeleterLog()

	// With no capacity nothing is retained, but returned handles still
	// work.
	h := c.Insert([]byte("k"), "v", 1, dl.fn)
	assert.Equal(t, "v", h.Value())
	assert.Nil(t, c.Lookup([]byte("k")))
	c.Release(h)
	assert.Equal(t, 1, dl.count([]byte("k")))
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(64 * numShards)
	dl := newDeleterLog()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				key := []byte(fmt.Sprintf("key%d", (seed*31+i)%512))
				if h := c.Lookup(key); h != nil {
					c.Release(h)
				} else {
					c.Release(c.Insert(key, i, 1, dl.fn))
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.TotalCharge(), 64*numShards)
}
