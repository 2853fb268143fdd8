package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/granitedb/granite/pkg/common/crc"
	"github.com/granitedb/granite/pkg/common/files"
)

// Writer appends logical records to a log file, fragmenting them across
// 32 KiB blocks. It is not safe for concurrent use; the commit path
// serializes appends under the writer lock.
type Writer struct {
	dest        files.WritableFile
	blockOffset int

	// typeCRC[t] caches the checksum of the record-type byte so each
	// append only extends it over the payload.
	typeCRC [maxRecordType + 1]uint32
}

// NewWriter starts a log at offset zero of dest.
func NewWriter(dest files.WritableFile) *Writer {
	w := &Writer{dest: dest}
	for t := range w.typeCRC {
		w.typeCRC[t] = crc.Value([]byte{byte(t)})
	}
	return w
}

// NewWriterAtOffset resumes a log whose file already holds destLength
// bytes, so block accounting stays aligned with the existing tail.
func NewWriterAtOffset(dest files.WritableFile, destLength uint64) *Writer {
	w := NewWriter(dest)
	w.blockOffset = int(destLength % BlockSize)
	return w
}

var zeroHeader [HeaderSize]byte

// AddRecord appends one logical record. Even an empty record emits a
// single zero-length Full fragment so the reader observes it.
func (w *Writer) AddRecord(data []byte) error {
	left := len(data)
	pos := 0
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			// Too little room for a header; pad out the block with
			// zeros and start fresh.
			if leftover > 0 {
				if _, err := w.dest.Write(zeroHeader[:leftover]); err != nil {
					return fmt.Errorf("failed to pad log block: %w", err)
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragLen := left
		if fragLen > avail {
			fragLen = avail
		}
		end := fragLen == left

		var t byte
		switch {
		case begin && end:
			t = recordFull
		case begin:
			t = recordFirst
		case end:
			t = recordLast
		default:
			t = recordMiddle
		}

		if err := w.emitPhysicalRecord(t, data[pos:pos+fragLen]); err != nil {
			return err
		}
		pos += fragLen
		left -= fragLen
		begin = false
		if left == 0 {
			return nil
		}
	}
}

func (w *Writer) emitPhysicalRecord(t byte, payload []byte) error {
	if len(payload) > 0xffff || w.blockOffset+HeaderSize+len(payload) > BlockSize {
		panic("wal: physical record exceeds block")
	}

	var header [HeaderSize]byte
	sum := crc.Mask(crc.Extend(w.typeCRC[t], payload))
	binary.LittleEndian.PutUint32(header[0:4], sum)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(payload)))
	header[6] = t

	if _, err := w.dest.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write record header: %w", err)
	}
	if _, err := w.dest.Write(payload); err != nil {
		return fmt.Errorf("failed to write record payload: %w", err)
	}
	if err := w.dest.Flush(); err != nil {
		return fmt.Errorf("failed to flush record: %w", err)
	}
	w.blockOffset += HeaderSize + len(payload)
	return nil
}

// Sync forces the log's bytes to stable storage.
func (w *Writer) Sync() error {
	return w.dest.Sync()
}
