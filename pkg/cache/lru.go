package cache

import "sync"

// Handle is a reference-counted cache entry. Clients hold handles
// returned by Insert and Lookup and must pass each one to Release
// exactly once; the entry's memory and deleter run only after the last
// reference drops.
//
// List membership invariants:
//
//	refs == 1 && inCache  => on the lru list (reclaimable)
//	refs >= 2 && inCache  => on the inUse list (pinned)
type Handle struct {
	key     []byte
	value   interface{}
	deleter func(key []byte, value interface{})
	charge  int
	hash    uint32
	refs    int32
	inCache bool

	next     *Handle
	prev     *Handle
	nextHash *Handle
}

// Value returns the cached value.
func (h *Handle) Value() interface{} { return h.value }

// shard is one LRU cache protected by a single mutex.
type shard struct {
	mu       sync.Mutex
	capacity int
	usage    int

	// Dummy heads of circular doubly linked lists. lru.prev is the
	// newest reclaimable entry, lru.next the oldest.
	lru   Handle
	inUse Handle

	table handleTable
}

func (s *shard) init(capacity int) {
	s.capacity = capacity
	s.lru.next = &s.lru
	s.lru.prev = &s.lru
	s.inUse.next = &s.inUse
	s.inUse.prev = &s.inUse
	s.table = newHandleTable()
}

func listRemove(h *Handle) {
	h.next.prev = h.prev
	h.prev.next = h.next
}

// listAppend links h just before the dummy head, making it the newest
// entry of that list.
func listAppend(list, h *Handle) {
	h.next = list
	h.prev = list.prev
	h.prev.next = h
	h.next.prev = h
}

// ref pins h; an entry promoted from refs==1 moves to the inUse list.
func (s *shard) ref(h *Handle) {
	if h.refs == 1 && h.inCache {
		listRemove(h)
		listAppend(&s.inUse, h)
	}
	h.refs++
}

// unref drops one reference; the deleter runs at zero, and an entry
// back down to one cached reference returns to the lru list.
func (s *shard) unref(h *Handle) {
	h.refs--
	if h.refs < 0 {
		panic("cache: negative refcount")
	}
	if h.refs == 0 {
		if h.inCache {
			panic("cache: freeing entry still in cache")
		}
		h.deleter(h.key, h.value)
	} else if h.inCache && h.refs == 1 {
		listRemove(h)
		listAppend(&s.lru, h)
	}
}

func (s *shard) insert(key []byte, hash uint32, value interface{}, charge int,
	deleter func(key []byte, value interface{})) *Handle {

	s.mu.Lock()
	defer s.mu.Unlock()

	h := &Handle{
		key:     append([]byte(nil), key...),
		value:   value,
		deleter: deleter,
		charge:  charge,
		hash:    hash,
		refs:    1, // the returned handle
	}

	if s.capacity > 0 {
		h.refs++ // the cache's own reference
		h.inCache = true
		listAppend(&s.inUse, h)
		s.usage += charge
		s.finishErase(s.table.insert(h))
	}
	// With capacity <= 0 the cache is turned off; the handle is still
	// valid, it just is not retained.

	for s.usage > s.capacity && s.lru.next != &s.lru {
		old := s.lru.next
		if old.refs != 1 {
			panic("cache: pinned entry on lru list")
		}
		s.finishErase(s.table.remove(old.key, old.hash))
	}

	return h
}

func (s *shard) lookup(key []byte, hash uint32) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.table.lookup(key, hash)
	if h != nil {
		s.ref(h)
	}
	return h
}

func (s *shard) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unref(h)
}

func (s *shard) erase(key []byte, hash uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishErase(s.table.remove(key, hash))
}

// finishErase completes removal of an entry that has already left the
// hash table: it sheds the cache's reference and list slot.
func (s *shard) finishErase(h *Handle) {
	if h == nil {
		return
	}
	if !h.inCache {
		panic("cache: erasing entry not in cache")
	}
	listRemove(h)
	h.inCache = false
	s.usage -= h.charge
	s.unref(h)
}

func (s *shard) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.lru.next != &s.lru {
		h := s.lru.next
		if h.refs != 1 {
			panic("cache: pinned entry on lru list")
		}
		s.finishErase(s.table.remove(h.key, h.hash))
	}
}

func (s *shard) totalCharge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
