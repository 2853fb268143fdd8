package sstable

import (
	"bytes"

	"github.com/granitedb/granite/pkg/common/iterator"
	"github.com/granitedb/granite/pkg/sstable/block"
)

// blockFunction materializes the data-block iterator referenced by an
// index entry's value.
type blockFunction func(indexValue []byte) *block.Iterator

// twoLevelIterator composes the index-block iterator with data-block
// iterators opened on demand: the outer level yields block handles,
// the inner level yields entries. When the inner iterator exhausts a
// block the wrapper advances the outer level and opens the next block.
type twoLevelIterator struct {
	index   *block.Iterator
	data    *block.Iterator // nil when no block is open
	blockFn blockFunction
	err     error

	// dataHandle remembers which index value data was opened from, to
	// avoid reopening the same block on repeated seeks.
	dataHandle []byte
}

func newTwoLevelIterator(index *block.Iterator, blockFn blockFunction) iterator.Iterator {
	return &twoLevelIterator{index: index, blockFn: blockFn}
}

func (it *twoLevelIterator) Valid() bool {
	return it.data != nil && it.data.Valid()
}

func (it *twoLevelIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.data.Key()
}

func (it *twoLevelIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.data.Value()
}

func (it *twoLevelIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if err := it.index.Error(); err != nil {
		return err
	}
	if it.data != nil {
		return it.data.Error()
	}
	return nil
}

func (it *twoLevelIterator) Close() error {
	err := it.Error()
	it.setDataIterator(nil)
	it.index.Close()
	return err
}

// setDataIterator swaps in a new inner iterator, closing (and thereby
// unpinning) the previous one.
func (it *twoLevelIterator) setDataIterator(data *block.Iterator) {
	if it.data != nil {
		if err := it.data.Close(); err != nil && it.err == nil {
			it.err = err
		}
	}
	it.data = data
}

// initDataBlock opens the block under the outer iterator's position,
// unless it is already open.
func (it *twoLevelIterator) initDataBlock() {
	if !it.index.Valid() {
		it.setDataIterator(nil)
		return
	}
	handle := it.index.Value()
	if it.data != nil && bytes.Equal(it.dataHandle, handle) {
		return
	}
	it.setDataIterator(it.blockFn(handle))
	it.dataHandle = append(it.dataHandle[:0], handle...)
}

// skipEmptyDataBlocksForward advances the outer level until the inner
// iterator is valid or input is exhausted.
func (it *twoLevelIterator) skipEmptyDataBlocksForward() {
	for it.data == nil || !it.data.Valid() {
		if !it.index.Valid() {
			it.setDataIterator(nil)
			return
		}
		it.index.Next()
		it.initDataBlock()
		if it.data != nil {
			it.data.SeekToFirst()
		}
	}
}

func (it *twoLevelIterator) skipEmptyDataBlocksBackward() {
	for it.data == nil || !it.data.Valid() {
		if !it.index.Valid() {
			it.setDataIterator(nil)
			return
		}
		it.index.Prev()
		it.initDataBlock()
		if it.data != nil {
			it.data.SeekToLast()
		}
	}
}

func (it *twoLevelIterator) Seek(target []byte) bool {
	it.index.Seek(target)
	it.initDataBlock()
	if it.data != nil {
		it.data.Seek(target)
	}
	it.skipEmptyDataBlocksForward()
	return it.Valid()
}

func (it *twoLevelIterator) SeekToFirst() {
	it.index.SeekToFirst()
	it.initDataBlock()
	if it.data != nil {
		it.data.SeekToFirst()
	}
	it.skipEmptyDataBlocksForward()
}

func (it *twoLevelIterator) SeekToLast() {
	it.index.SeekToLast()
	it.initDataBlock()
	if it.data != nil {
		it.data.SeekToLast()
	}
	it.skipEmptyDataBlocksBackward()
}

func (it *twoLevelIterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.data.Next()
	it.skipEmptyDataBlocksForward()
	return it.Valid()
}

func (it *twoLevelIterator) Prev() bool {
	if !it.Valid() {
		return false
	}
	it.data.Prev()
	it.skipEmptyDataBlocksBackward()
	return it.Valid()
}

var _ iterator.Iterator = (*twoLevelIterator)(nil)
