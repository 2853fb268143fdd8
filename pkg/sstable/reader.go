package sstable

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/granitedb/granite/pkg/cache"
	"github.com/granitedb/granite/pkg/common/files"
	"github.com/granitedb/granite/pkg/common/iterator"
	"github.com/granitedb/granite/pkg/common/status"
	"github.com/granitedb/granite/pkg/config"
	"github.com/granitedb/granite/pkg/keys"
	"github.com/granitedb/granite/pkg/sstable/block"
	"github.com/granitedb/granite/pkg/sstable/filter"
	"github.com/granitedb/granite/pkg/sstable/footer"
)

// Reader serves lookups against one table file. After Open its state
// is immutable, so a single Reader may be shared by any number of
// concurrent reads.
type Reader struct {
	cfg        *config.Config
	file       files.RandomAccessFile
	fileSize   int64
	blockCache *cache.Cache
	cacheID    uint64

	ftr        *footer.Footer
	indexBlock *block.Block
	filters    *filter.BlockReader
}

// NewReader opens the table at path. blockCache may be nil, in which
// case every block access reads the file.
func NewReader(path string, cfg *config.Config, blockCache *cache.Cache) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, status.IOError(fmt.Errorf("failed to stat table file: %w", err))
	}
	file, err := files.NewRandomAccessFile(path)
	if err != nil {
		return nil, status.IOError(err)
	}

	r := &Reader{
		cfg:        cfg,
		file:       file,
		fileSize:   stat.Size(),
		blockCache: blockCache,
	}
	if blockCache != nil {
		r.cacheID = blockCache.NewID()
	}
	if err := r.open(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) open() error {
	if r.fileSize < footer.EncodedLength {
		return status.Corruption("file is too short to be a table")
	}

	footerBuf := make([]byte, footer.EncodedLength)
	if _, err := r.file.ReadAt(footerBuf, r.fileSize-footer.EncodedLength); err != nil {
		return status.IOError(fmt.Errorf("failed to read footer: %w", err))
	}
	ftr, err := footer.Decode(footerBuf)
	if err != nil {
		return err
	}
	r.ftr = ftr

	// The index block is read eagerly and held for the reader's
	// lifetime; it is consulted on every lookup.
	indexContents, err := readBlockContents(r.file, ftr.IndexHandle, true)
	if err != nil {
		return err
	}
	r.indexBlock, err = block.New(indexContents)
	if err != nil {
		return err
	}

	if r.cfg.FilterPolicy != nil {
		r.readFilter()
	}
	return nil
}

// readFilter loads the filter block named by the meta-index. Any
// failure leaves the reader filterless, which is merely slower.
func (r *Reader) readFilter() {
	metaContents, err := readBlockContents(r.file, r.ftr.MetaIndexHandle, true)
	if err != nil {
		return
	}
	meta, err := block.New(metaContents)
	if err != nil {
		return
	}
	it := meta.NewIterator(keys.BytewiseComparator{})
	defer it.Close()

	name := []byte(filterPrefix + r.cfg.FilterPolicy.Name())
	if !it.Seek(name) || string(it.Key()) != string(name) {
		return
	}
	handle, _, err := footer.DecodeBlockHandle(it.Value())
	if err != nil {
		return
	}
	filterContents, err := readBlockContents(r.file, handle, true)
	if err != nil {
		return
	}
	r.filters = filter.NewBlockReader(r.cfg.FilterPolicy, filterContents)
}

// Close releases the underlying file. Outstanding iterators keep their
// pinned cache blocks but must not read past Close.
func (r *Reader) Close() error {
	return r.file.Close()
}

// blockIterator materializes the data block named by an index entry's
// value, consulting the block cache when one is configured. The
// returned iterator owns a pin on the cached block and releases it on
// Close.
func (r *Reader) blockIterator(indexValue []byte, ro *ReadOptions) *block.Iterator {
	handle, _, err := footer.DecodeBlockHandle(indexValue)
	if err != nil {
		return errorBlockIterator(err)
	}

	if r.blockCache == nil {
		contents, err := readBlockContents(r.file, handle, ro.VerifyChecksums || r.cfg.ParanoidChecks)
		if err != nil {
			return errorBlockIterator(err)
		}
		blk, err := block.New(contents)
		if err != nil {
			return errorBlockIterator(err)
		}
		return blk.NewIterator(r.cfg.Comparator)
	}

	var cacheKey [16]byte
	binary.LittleEndian.PutUint64(cacheKey[:8], r.cacheID)
	binary.LittleEndian.PutUint64(cacheKey[8:], handle.Offset)

	var blk *block.Block
	h := r.blockCache.Lookup(cacheKey[:])
	if h != nil {
		blk = h.Value().(*block.Block)
	} else {
		contents, err := readBlockContents(r.file, handle, ro.VerifyChecksums || r.cfg.ParanoidChecks)
		if err != nil {
			return errorBlockIterator(err)
		}
		blk, err = block.New(contents)
		if err != nil {
			return errorBlockIterator(err)
		}
		if ro.FillCache {
			h = r.blockCache.Insert(cacheKey[:], blk, blk.Size(), dropBlock)
		}
	}

	it := blk.NewIterator(r.cfg.Comparator)
	if h != nil {
		handleRef := h
		it.RegisterCleanup(func() { r.blockCache.Release(handleRef) })
	}
	return it
}

// dropBlock is the cache deleter for blocks; the block is garbage
// collected once the last iterator lets go of it.
func dropBlock(key []byte, value interface{}) {}

// errorBlockIterator returns an iterator that is immediately invalid
// and carries err.
func errorBlockIterator(err error) *block.Iterator {
	blk, _ := block.New(make([]byte, 4))
	it := blk.NewIterator(keys.BytewiseComparator{})
	it.SetError(err)
	return it
}

// Get looks up key and, when the table holds an entry at or after it
// in the same candidate block, hands that entry to fn. The caller
// decides whether the entry actually matches (the engine checks the
// user-key portion and tombstone type).
func (r *Reader) Get(ro *ReadOptions, key []byte, fn func(key, value []byte)) error {
	iiter := r.indexBlock.NewIterator(r.cfg.Comparator)
	defer iiter.Close()

	if !iiter.Seek(key) {
		return iiter.Error()
	}

	if r.filters != nil {
		handle, _, err := footer.DecodeBlockHandle(iiter.Value())
		if err == nil && !r.filters.KeyMayMatch(handle.Offset, key) {
			// Filter says the key cannot be in this block.
			return nil
		}
	}

	biter := r.blockIterator(iiter.Value(), ro)
	defer biter.Close()
	if biter.Seek(key) {
		fn(biter.Key(), biter.Value())
	}
	return biter.Error()
}

// NewIterator returns a two-level iterator over the whole table.
func (r *Reader) NewIterator(ro *ReadOptions) iterator.Iterator {
	return newTwoLevelIterator(
		r.indexBlock.NewIterator(r.cfg.Comparator),
		func(indexValue []byte) *block.Iterator {
			return r.blockIterator(indexValue, ro)
		},
	)
}

// ApproximateOffsetOf returns the file offset where key's data would
// live. Keys past the last entry map to the offset of the meta-index
// block.
func (r *Reader) ApproximateOffsetOf(key []byte) uint64 {
	it := r.indexBlock.NewIterator(r.cfg.Comparator)
	defer it.Close()
	if it.Seek(key) {
		if handle, _, err := footer.DecodeBlockHandle(it.Value()); err == nil {
			return handle.Offset
		}
	}
	// Past the last key, or an undecodable entry: approximate with the
	// start of the meta-index block, which follows the data blocks and
	// the filter block, if any.
	return r.ftr.MetaIndexHandle.Offset
}
