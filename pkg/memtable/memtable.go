// Package memtable implements the mutable in-memory buffer on the write
// path. Entries are encoded once into arena-owned memory and indexed by
// a skip list; a single writer inserts while readers proceed without
// locks.
package memtable

import (
	"sync/atomic"

	"github.com/granitedb/granite/pkg/arena"
	"github.com/granitedb/granite/pkg/common/status"
	"github.com/granitedb/granite/pkg/keys"
	"github.com/granitedb/granite/pkg/skiplist"
)

// entryComparator orders encoded memtable entries. Each entry starts
// with a length-prefixed internal key; the stored value that follows
// does not participate in the order.
type entryComparator struct {
	ikcmp *keys.InternalKeyComparator
}

func (c entryComparator) Compare(a, b []byte) int {
	ak, _, ok1 := keys.GetLengthPrefixed(a)
	bk, _, ok2 := keys.GetLengthPrefixed(b)
	if !ok1 || !ok2 {
		// Entries are produced by Add and never malformed; an encoding
		// bug here must not silently reorder the table.
		panic("memtable: malformed entry")
	}
	return c.ikcmp.Compare(ak, bk)
}

// MemTable buffers recent writes. It is reference counted: the database
// holds one reference, and compaction takes another while draining it.
type MemTable struct {
	cmp   *keys.InternalKeyComparator
	arena *arena.Arena
	list  *skiplist.SkipList
	refs  atomic.Int32
}

// New creates an empty memtable ordered by cmp. The caller owns the
// initial reference.
func New(cmp *keys.InternalKeyComparator) *MemTable {
	a := arena.New()
	m := &MemTable{
		cmp:   cmp,
		arena: a,
		list:  skiplist.New(entryComparator{ikcmp: cmp}),
	}
	m.refs.Store(1)
	return m
}

// Ref increments the reference count.
func (m *MemTable) Ref() {
	m.refs.Add(1)
}

// Unref drops one reference. When the last reference is released the
// arena, and with it every entry, is discarded.
func (m *MemTable) Unref() {
	n := m.refs.Add(-1)
	if n < 0 {
		panic("memtable: unref below zero")
	}
	if n == 0 {
		m.list = nil
		m.arena = nil
	}
}

// ApproximateMemoryUsage returns the bytes held by the arena, used for
// deciding when to rotate the memtable.
func (m *MemTable) ApproximateMemoryUsage() int64 {
	return m.arena.MemoryUsage()
}

// Add appends an entry for key at the given sequence number. Deletions
// pass TypeDeletion and an empty value. The entry layout is
//
//	varint32(len(key)+8) ‖ key ‖ trailer ‖ varint32(len(value)) ‖ value
//
// written into a single arena allocation that lives until the memtable
// is dropped.
func (m *MemTable) Add(seq uint64, t keys.ValueType, key, value []byte) {
	internalLen := len(key) + keys.TrailerLen
	encoded := len(uvarintBuf(uint32(internalLen))) + internalLen +
		len(uvarintBuf(uint32(len(value)))) + len(value)

	buf := m.arena.Allocate(encoded)
	w := buf[:0]
	w = keys.AppendUvarint32(w, uint32(internalLen))
	w = keys.AppendInternalKey(w, key, seq, t)
	w = keys.AppendLengthPrefixed(w, value)
	if len(w) != encoded {
		panic("memtable: entry size miscalculated")
	}
	m.list.Insert(buf)
}

// uvarintBuf returns the varint encoding of v; used only for sizing.
func uvarintBuf(v uint32) []byte {
	var tmp [5]byte
	return keys.AppendUvarint32(tmp[:0], v)
}

// Get looks up the newest version of the lookup key's user key visible
// at its snapshot sequence.
//
// Returns (value, true, nil) for a live value, (nil, true, NotFound)
// for a tombstone, and (nil, false, nil) when the memtable holds no
// version at all and the caller should consult older tables.
func (m *MemTable) Get(lk *keys.LookupKey) ([]byte, bool, error) {
	it := m.list.NewIterator()
	it.Seek(lk.MemtableKey())
	if !it.Valid() {
		return nil, false, nil
	}

	// The seek key has the snapshot's sequence with the highest type,
	// so the first entry at or after it for the same user key is the
	// newest visible version.
	entry := it.Key()
	klen, n := keys.GetUvarint32(entry)
	if n == 0 || int(klen) < keys.TrailerLen || n+int(klen) > len(entry) {
		return nil, false, status.Corruption("malformed memtable entry")
	}
	ikey := entry[n : n+int(klen)]
	if m.cmp.UserComparator().Compare(keys.UserKey(ikey), lk.UserKey()) != 0 {
		return nil, false, nil
	}

	switch keys.TypeOf(ikey) {
	case keys.TypeValue:
		value, _, ok := keys.GetLengthPrefixed(entry[n+int(klen):])
		if !ok {
			return nil, false, status.Corruption("malformed memtable value")
		}
		return value, true, nil
	case keys.TypeDeletion:
		return nil, true, status.NotFound("")
	default:
		return nil, false, status.Corruption("bad value type in memtable entry")
	}
}
