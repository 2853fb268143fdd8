// Package skiplist implements the ordered in-memory index underneath
// the memtable. One goroutine may insert at a time; any number of
// goroutines may read concurrently without locking. Nodes are never
// removed while the list is live.
package skiplist

import (
	"math/rand"
	"sync/atomic"
	"unsafe"
)

const (
	// MaxHeight caps the tower height of any node.
	MaxHeight = 12

	// BranchingFactor sets the 1/n probability of growing a node's
	// height by one level.
	BranchingFactor = 4
)

// Comparator supplies the key order for the list.
type Comparator interface {
	Compare(a, b []byte) int
}

type node struct {
	key []byte
	// next holds the tower. Only the first `height` slots are used.
	// After a node is linked these pointers are its only mutable state.
	next [MaxHeight]unsafe.Pointer
}

// loadNext acquire-loads the successor at the given level, so a reader
// that observes a freshly linked node also observes its initialized
// contents.
func (n *node) loadNext(level int) *node {
	return (*node)(atomic.LoadPointer(&n.next[level]))
}

// storeNext release-stores the successor at the given level.
func (n *node) storeNext(level int, x *node) {
	atomic.StorePointer(&n.next[level], unsafe.Pointer(x))
}

// setNextRelaxed writes a successor without a barrier. Safe only while
// the node is not yet published.
func (n *node) setNextRelaxed(level int, x *node) {
	n.next[level] = unsafe.Pointer(x)
}

// SkipList is a sorted set of byte-string keys. Keys must be distinct
// under the comparator; the inserter guarantees this by encoding a
// unique sequence number into every key.
type SkipList struct {
	cmp    Comparator
	head   *node
	height atomic.Int32
	rnd    *rand.Rand
}

// New creates an empty list ordered by cmp.
func New(cmp Comparator) *SkipList {
	return &SkipList{
		cmp:  cmp,
		head: &node{},
		rnd:  rand.New(rand.NewSource(0xdeadbeef)),
	}
}

func (s *SkipList) currentHeight() int {
	h := s.height.Load()
	if h == 0 {
		return 1
	}
	return int(h)
}

func (s *SkipList) randomHeight() int {
	height := 1
	for height < MaxHeight && s.rnd.Intn(BranchingFactor) == 0 {
		height++
	}
	return height
}

// keyIsAfterNode reports whether key sorts after n's key.
func (s *SkipList) keyIsAfterNode(key []byte, n *node) bool {
	return n != nil && s.cmp.Compare(n.key, key) < 0
}

// findGreaterOrEqual returns the first node at or after key. When prev
// is non-nil it records, per level, the rightmost node with a smaller
// key — the insertion splice.
func (s *SkipList) findGreaterOrEqual(key []byte, prev *[MaxHeight]*node) *node {
	x := s.head
	level := s.currentHeight() - 1
	for {
		next := x.loadNext(level)
		if s.keyIsAfterNode(key, next) {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with a key < key, or head.
func (s *SkipList) findLessThan(key []byte) *node {
	x := s.head
	level := s.currentHeight() - 1
	for {
		next := x.loadNext(level)
		if next != nil && s.cmp.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

// findLast returns the last node in the list, or head if empty.
func (s *SkipList) findLast() *node {
	x := s.head
	level := s.currentHeight() - 1
	for {
		next := x.loadNext(level)
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

// Insert links key into the list. The caller must serialize inserts and
// must not insert a key equal to one already present.
func (s *SkipList) Insert(key []byte) {
	var prev [MaxHeight]*node
	s.findGreaterOrEqual(key, &prev)

	height := s.randomHeight()
	if height > s.currentHeight() {
		for level := s.currentHeight(); level < height; level++ {
			prev[level] = s.head
		}
		// Readers racing with this store may see the old height; they
		// then simply start one level lower, which is still correct
		// because the new levels hang off head.
		s.height.Store(int32(height))
	}

	x := &node{key: key}
	for level := 0; level < height; level++ {
		// The node is unreachable until the store into prev below, so
		// its own pointer can be set without a barrier.
		x.setNextRelaxed(level, prev[level].loadNext(level))
		prev[level].storeNext(level, x)
	}
}

// Contains reports whether key is present. It never blocks and never
// allocates.
func (s *SkipList) Contains(key []byte) bool {
	n := s.findGreaterOrEqual(key, nil)
	return n != nil && s.cmp.Compare(n.key, key) == 0
}

// Iterator walks the list. It is valid for the lifetime of the list and
// may run concurrently with one inserter.
type Iterator struct {
	list *SkipList
	node *node
}

// NewIterator returns an unpositioned iterator.
func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{list: s}
}

// Valid reports whether the iterator is positioned at a node.
func (it *Iterator) Valid() bool {
	return it.node != nil
}

// Key returns the key at the current position.
func (it *Iterator) Key() []byte {
	return it.node.key
}

// Next advances to the following node.
func (it *Iterator) Next() {
	it.node = it.node.loadNext(0)
}

// Prev retreats to the previous node. Implemented with a search rather
// than back-pointers.
func (it *Iterator) Prev() {
	it.node = it.list.findLessThan(it.node.key)
	if it.node == it.list.head {
		it.node = nil
	}
}

// Seek positions at the first node with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekToFirst positions at the first node.
func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.loadNext(0)
}

// SeekToLast positions at the last node.
func (it *Iterator) SeekToLast() {
	it.node = it.list.findLast()
	if it.node == it.list.head {
		it.node = nil
	}
}
