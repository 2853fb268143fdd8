package block

import (
	"github.com/granitedb/granite/pkg/common/iterator"
	"github.com/granitedb/granite/pkg/common/status"
)

// Comparator supplies the key order used by Seek. Data blocks pass the
// internal-key comparator; index and meta-index blocks are bytewise.
type Comparator interface {
	Compare(a, b []byte) int
}

// Iterator walks a block's entries, reconstructing prefix-compressed
// keys as it goes. Seek binary-searches the restart array on full keys
// and then scans forward from the chosen restart.
type Iterator struct {
	block *Block
	cmp   Comparator

	// current is the offset of the current entry; nextOffset the
	// offset just past it.
	current      int
	nextOffset   int
	restartIndex int
	key          []byte
	value        []byte
	err          error

	// cleanup, if set, runs once on Close; the table reader uses it to
	// unpin the cached block.
	cleanup func()
}

// NewIterator returns an unpositioned iterator using cmp for seeks.
func (b *Block) NewIterator(cmp Comparator) *Iterator {
	return &Iterator{
		block:        b,
		cmp:          cmp,
		current:      b.restartOffset,
		restartIndex: b.numRestarts,
	}
}

// RegisterCleanup arranges for fn to run when the iterator is closed.
func (it *Iterator) RegisterCleanup(fn func()) {
	prev := it.cleanup
	it.cleanup = func() {
		if prev != nil {
			prev()
		}
		fn()
	}
}

func (it *Iterator) Valid() bool { return it.current < it.block.restartOffset && it.err == nil }

func (it *Iterator) Key() []byte { return it.key }

func (it *Iterator) Value() []byte { return it.value }

func (it *Iterator) Error() error { return it.err }

// SetError poisons the iterator; it becomes permanently invalid and
// reports err. Used to surface block materialization failures through
// the iterator contract.
func (it *Iterator) SetError(err error) {
	if it.err == nil {
		it.err = err
	}
	it.current = it.block.restartOffset
	it.restartIndex = it.block.numRestarts
	it.key = nil
	it.value = nil
}

func (it *Iterator) Close() error {
	if it.cleanup != nil {
		it.cleanup()
		it.cleanup = nil
	}
	return it.err
}

func (it *Iterator) corrupt() {
	it.current = it.block.restartOffset
	it.restartIndex = it.block.numRestarts
	if it.err == nil {
		it.err = status.Corruption("bad entry in block")
	}
	it.key = nil
	it.value = nil
}

// seekToRestart positions parsing state at restart point i without
// decoding an entry.
func (it *Iterator) seekToRestart(i int) {
	it.key = it.key[:0]
	it.restartIndex = i
	it.nextOffset = it.block.restartPoint(i)
}

// parseNextEntry decodes the entry at nextOffset into key/value.
func (it *Iterator) parseNextEntry() bool {
	it.current = it.nextOffset
	if it.current >= it.block.restartOffset {
		// Off the end.
		it.current = it.block.restartOffset
		it.restartIndex = it.block.numRestarts
		return false
	}

	shared, nonShared, valueLen, keyOff, ok := it.block.decodeEntry(it.current)
	if !ok || int(shared) > len(it.key) {
		it.corrupt()
		return false
	}
	it.key = append(it.key[:shared], it.block.data[keyOff:keyOff+int(nonShared)]...)
	valOff := keyOff + int(nonShared)
	it.value = it.block.data[valOff : valOff+int(valueLen)]
	it.nextOffset = valOff + int(valueLen)

	// Keep restartIndex pointing at the last restart <= current.
	for it.restartIndex+1 < it.block.numRestarts &&
		it.block.restartPoint(it.restartIndex+1) <= it.current {
		it.restartIndex++
	}
	return true
}

func (it *Iterator) SeekToFirst() {
	if it.block.numRestarts == 0 {
		it.corrupt()
		return
	}
	it.seekToRestart(0)
	it.parseNextEntry()
}

func (it *Iterator) SeekToLast() {
	if it.block.numRestarts == 0 {
		it.corrupt()
		return
	}
	it.seekToRestart(it.block.numRestarts - 1)
	for it.parseNextEntry() && it.nextOffset < it.block.restartOffset {
	}
}

// Seek positions at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) bool {
	// Binary search over restart points for the last restart whose
	// full key is < target.
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		_, nonShared, _, keyOff, ok := it.block.decodeEntry(it.block.restartPoint(mid))
		if !ok {
			it.corrupt()
			return false
		}
		restartKey := it.block.data[keyOff : keyOff+int(nonShared)]
		if it.cmp.Compare(restartKey, target) < 0 {
			left = mid
		} else {
			right = mid - 1
		}
	}

	it.seekToRestart(left)
	for it.parseNextEntry() {
		if it.cmp.Compare(it.key, target) >= 0 {
			return true
		}
	}
	return false
}

func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}
	return it.parseNextEntry()
}

// Prev steps back by rewinding to the restart point before the current
// entry and scanning forward.
func (it *Iterator) Prev() bool {
	if !it.Valid() {
		return false
	}
	original := it.current
	for it.block.restartPoint(it.restartIndex) >= original {
		if it.restartIndex == 0 {
			// No entries before the first.
			it.current = it.block.restartOffset
			it.restartIndex = it.block.numRestarts
			return false
		}
		it.restartIndex--
	}

	it.seekToRestart(it.restartIndex)
	for it.parseNextEntry() && it.nextOffset < original {
	}
	return it.Valid()
}

var _ iterator.Iterator = (*Iterator)(nil)
