package memtable

import (
	"github.com/granitedb/granite/pkg/common/iterator"
	"github.com/granitedb/granite/pkg/keys"
	"github.com/granitedb/granite/pkg/skiplist"
)

// Iterator walks the memtable in internal-key order. Key returns the
// raw internal key; Value returns the stored bytes. The iterator pins
// the memtable for its lifetime.
type Iterator struct {
	mem  *MemTable
	iter *skiplist.Iterator
	// scratch holds the encoded seek target across Seek calls.
	scratch []byte
}

// NewIterator returns an iterator over the memtable's entries. The
// memtable's reference count is bumped until Close.
func (m *MemTable) NewIterator() *Iterator {
	m.Ref()
	return &Iterator{mem: m, iter: m.list.NewIterator()}
}

func (it *Iterator) SeekToFirst() { it.iter.SeekToFirst() }

func (it *Iterator) SeekToLast() { it.iter.SeekToLast() }

// Seek positions at the first entry with internal key >= target.
func (it *Iterator) Seek(target []byte) bool {
	it.scratch = keys.AppendLengthPrefixed(it.scratch[:0], target)
	it.iter.Seek(it.scratch)
	return it.Valid()
}

func (it *Iterator) Next() bool {
	it.iter.Next()
	return it.Valid()
}

func (it *Iterator) Prev() bool {
	it.iter.Prev()
	return it.Valid()
}

func (it *Iterator) Valid() bool { return it.iter.Valid() }

// Key returns the encoded internal key at the current position.
func (it *Iterator) Key() []byte {
	entry := it.iter.Key()
	k, _, ok := keys.GetLengthPrefixed(entry)
	if !ok {
		return nil
	}
	return k
}

// Value returns the stored value bytes at the current position.
func (it *Iterator) Value() []byte {
	entry := it.iter.Key()
	klen, n := keys.GetUvarint32(entry)
	if n == 0 || n+int(klen) > len(entry) {
		return nil
	}
	v, _, ok := keys.GetLengthPrefixed(entry[n+int(klen):])
	if !ok {
		return nil
	}
	return v
}

func (it *Iterator) Error() error { return nil }

// Close releases the iterator's reference on the memtable.
func (it *Iterator) Close() error {
	if it.mem != nil {
		it.mem.Unref()
		it.mem = nil
	}
	return nil
}

var _ iterator.Iterator = (*Iterator)(nil)
