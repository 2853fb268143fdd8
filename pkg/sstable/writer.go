package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/snappy"

	"github.com/granitedb/granite/pkg/common/crc"
	"github.com/granitedb/granite/pkg/common/files"
	"github.com/granitedb/granite/pkg/common/status"
	"github.com/granitedb/granite/pkg/config"
	"github.com/granitedb/granite/pkg/sstable/block"
	"github.com/granitedb/granite/pkg/sstable/filter"
	"github.com/granitedb/granite/pkg/sstable/footer"
)

// fileManager handles file operations for table writing: output goes
// to a hidden temp file that is renamed into place on Finish, so a
// crashed build never leaves a partial table under the final name.
type fileManager struct {
	path    string
	tmpPath string
	file    files.WritableFile
}

func newFileManager(path string) (*fileManager, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := files.NewWritableFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	return &fileManager{path: path, tmpPath: tmpPath, file: file}, nil
}

// finalize closes the file and renames it to the final path.
func (fm *fileManager) finalize() error {
	if err := fm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync table file: %w", err)
	}
	if err := fm.file.Close(); err != nil {
		return fmt.Errorf("failed to close table file: %w", err)
	}
	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// cleanup removes the temporary file if writing is aborted.
func (fm *fileManager) cleanup() error {
	fm.file.Close()
	return os.Remove(fm.tmpPath)
}

// Writer assembles a table from a strictly increasing stream of keys.
// When the engine writes internal keys, cfg.Comparator is the
// internal-key comparator and cfg.FilterPolicy the internal filter
// wrapper.
type Writer struct {
	cfg *config.Config
	fm  *fileManager

	offset     uint64
	numEntries int64
	lastKey    []byte
	err        error
	finished   bool

	dataBlock  *block.Builder
	indexBlock *block.Builder
	filters    *filter.BlockBuilder

	// A data block's index entry is deferred until the next key
	// arrives, so the separator can stop between the two blocks.
	pendingIndexEntry bool
	pendingHandle     footer.BlockHandle

	compressed []byte // scratch for snappy output
	handleBuf  []byte // scratch for handle encodings
}

// NewWriter creates a table writer for path.
func NewWriter(path string, cfg *config.Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fm, err := newFileManager(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		cfg:        cfg,
		fm:         fm,
		dataBlock:  block.NewBuilder(cfg.BlockRestartInterval),
		indexBlock: block.NewBuilder(1),
	}
	if cfg.FilterPolicy != nil {
		w.filters = filter.NewBlockBuilder(cfg.FilterPolicy)
		w.filters.StartBlock(0)
	}
	return w, nil
}

// Add appends a key/value pair. Keys must be strictly increasing under
// the configured comparator.
func (w *Writer) Add(key, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.finished {
		return status.InvalidArgument("add after finish")
	}
	if w.numEntries > 0 && w.cfg.Comparator.Compare(key, w.lastKey) <= 0 {
		return status.InvalidArgument("keys must be added in strictly increasing order")
	}

	if w.pendingIndexEntry {
		if !w.dataBlock.Empty() {
			panic("sstable: pending index entry with open data block")
		}
		sep := w.cfg.Comparator.FindShortestSeparator(w.lastKey, key)
		w.handleBuf = w.pendingHandle.EncodeTo(w.handleBuf[:0])
		w.indexBlock.Add(sep, w.handleBuf)
		w.pendingIndexEntry = false
	}

	if w.filters != nil {
		w.filters.AddKey(key)
	}

	w.lastKey = append(w.lastKey[:0], key...)
	w.numEntries++
	w.dataBlock.Add(key, value)

	if w.dataBlock.CurrentSizeEstimate() >= w.cfg.BlockSize {
		return w.flush()
	}
	return nil
}

// flush closes the open data block and records its handle for the
// deferred index entry.
func (w *Writer) flush() error {
	if w.dataBlock.Empty() {
		return nil
	}
	if w.pendingIndexEntry {
		panic("sstable: flush with pending index entry")
	}
	if err := w.writeBlock(w.dataBlock, &w.pendingHandle); err != nil {
		return err
	}
	w.pendingIndexEntry = true
	if err := w.fm.file.Flush(); err != nil {
		w.err = status.IOError(err)
		return w.err
	}
	if w.filters != nil {
		w.filters.StartBlock(w.offset)
	}
	return nil
}

// writeBlock finishes b, applies the configured compression when it
// pays for itself, and writes the result.
func (w *Writer) writeBlock(b *block.Builder, handle *footer.BlockHandle) error {
	raw := b.Finish()

	blockContents := raw
	compressionType := config.NoCompression
	if w.cfg.Compression == config.SnappyCompression {
		w.compressed = snappy.Encode(w.compressed[:0], raw)
		// Keep the compressed form only if it shrinks the block by at
		// least 1/8th; trivial savings are not worth the decompression.
		if len(w.compressed) < len(raw)-len(raw)/8 {
			blockContents = w.compressed
			compressionType = config.SnappyCompression
		}
	}

	err := w.writeRawBlock(blockContents, compressionType, handle)
	b.Reset()
	return err
}

// writeRawBlock appends blockContents and its 5-byte trailer, filling
// in handle.
func (w *Writer) writeRawBlock(blockContents []byte, compressionType config.CompressionType, handle *footer.BlockHandle) error {
	handle.Offset = w.offset
	handle.Size = uint64(len(blockContents))

	if _, err := w.fm.file.Write(blockContents); err != nil {
		w.err = status.IOError(err)
		return w.err
	}

	var trailer [footer.BlockTrailerSize]byte
	trailer[0] = byte(compressionType)
	sum := crc.Extend(crc.Value(blockContents), trailer[:1])
	binary.LittleEndian.PutUint32(trailer[1:], crc.Mask(sum))
	if _, err := w.fm.file.Write(trailer[:]); err != nil {
		w.err = status.IOError(err)
		return w.err
	}

	w.offset += uint64(len(blockContents)) + footer.BlockTrailerSize
	return nil
}

// Finish flushes remaining data, writes the filter, meta-index, and
// index blocks and the footer, then moves the file to its final name.
func (w *Writer) Finish() error {
	if w.err != nil {
		return w.err
	}
	if w.finished {
		return status.InvalidArgument("finish called twice")
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.finished = true

	var filterHandle footer.BlockHandle
	haveFilter := false
	if w.filters != nil {
		// Filter data is already hash material; never compressed.
		if err := w.writeRawBlock(w.filters.Finish(), config.NoCompression, &filterHandle); err != nil {
			return err
		}
		haveFilter = true
	}

	metaIndex := block.NewBuilder(1)
	if haveFilter {
		w.handleBuf = filterHandle.EncodeTo(w.handleBuf[:0])
		metaIndex.Add([]byte(filterPrefix+w.cfg.FilterPolicy.Name()), w.handleBuf)
	}
	var metaIndexHandle footer.BlockHandle
	if err := w.writeBlock(metaIndex, &metaIndexHandle); err != nil {
		return err
	}

	if w.pendingIndexEntry {
		succ := w.cfg.Comparator.FindShortSuccessor(w.lastKey)
		w.handleBuf = w.pendingHandle.EncodeTo(w.handleBuf[:0])
		w.indexBlock.Add(succ, w.handleBuf)
		w.pendingIndexEntry = false
	}
	var indexHandle footer.BlockHandle
	if err := w.writeBlock(w.indexBlock, &indexHandle); err != nil {
		return err
	}

	ft := footer.Footer{MetaIndexHandle: metaIndexHandle, IndexHandle: indexHandle}
	if _, err := w.fm.file.Write(ft.Encode()); err != nil {
		w.err = status.IOError(err)
		return w.err
	}
	w.offset += footer.EncodedLength

	if err := w.fm.finalize(); err != nil {
		w.err = status.IOError(err)
		return w.err
	}
	return nil
}

// Abort cancels the build and removes the temporary file.
func (w *Writer) Abort() error {
	w.finished = true
	return w.fm.cleanup()
}

// NumEntries returns the number of pairs added so far.
func (w *Writer) NumEntries() int64 { return w.numEntries }

// FileSize returns the bytes written so far; after Finish this is the
// final table size.
func (w *Writer) FileSize() uint64 { return w.offset }
