// Package sstable implements the immutable sorted table: the builder
// that assembles data, filter, index, and footer sections, and the
// reader that serves point lookups and range scans through the block
// cache.
package sstable

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/snappy"

	"github.com/granitedb/granite/pkg/common/crc"
	"github.com/granitedb/granite/pkg/common/files"
	"github.com/granitedb/granite/pkg/common/status"
	"github.com/granitedb/granite/pkg/config"
	"github.com/granitedb/granite/pkg/sstable/footer"
)

// ReadOptions controls a single read against a table.
type ReadOptions struct {
	// VerifyChecksums validates the CRC of every block touched.
	VerifyChecksums bool

	// FillCache admits blocks read for this operation into the block
	// cache. Bulk scans (compaction) turn this off.
	FillCache bool
}

// filterPrefix keys filter blocks in the meta-index.
const filterPrefix = "filter."

// readBlockContents fetches and verifies the block at handle,
// returning its uncompressed contents. The result is always freshly
// allocated, so it is safe to hand to the cache.
func readBlockContents(file files.RandomAccessFile, handle footer.BlockHandle, verifyChecksum bool) ([]byte, error) {
	n := int(handle.Size)
	raw := make([]byte, n+footer.BlockTrailerSize)
	read, err := file.ReadAt(raw, int64(handle.Offset))
	if err != nil && read != len(raw) {
		return nil, status.IOError(fmt.Errorf("failed to read block at %d: %w", handle.Offset, err))
	}
	if read != len(raw) {
		return nil, status.Corruption("truncated block read: %d of %d bytes", read, len(raw))
	}

	data := raw[:n]
	compressionType := raw[n]

	if verifyChecksum {
		expected := crc.Unmask(binary.LittleEndian.Uint32(raw[n+1:]))
		actual := crc.Extend(crc.Value(data), raw[n:n+1])
		if expected != actual {
			return nil, status.Corruption("block checksum mismatch at offset %d", handle.Offset)
		}
	}

	switch config.CompressionType(compressionType) {
	case config.NoCompression:
		return data, nil
	case config.SnappyCompression:
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, status.Corruption("corrupted snappy block at offset %d", handle.Offset)
		}
		return decoded, nil
	default:
		return nil, status.NotSupported("unknown block compression type %d", compressionType)
	}
}
