package wal

import (
	"encoding/binary"
	"io"

	"go.uber.org/zap"

	"github.com/granitedb/granite/pkg/common/crc"
	"github.com/granitedb/granite/pkg/common/files"
	"github.com/granitedb/granite/pkg/common/status"
)

// Reporter receives notice of skipped bytes during log replay. Some
// dropped bytes may be from an incomplete record at the tail of a
// crashed log; that is expected and the caller decides how loudly to
// complain.
type Reporter interface {
	Corruption(bytes int, reason error)
}

// LogReporter is a Reporter that records drops through a zap logger.
type LogReporter struct {
	Logger *zap.Logger
}

func (r *LogReporter) Corruption(bytes int, reason error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("dropped log bytes",
		zap.Int("bytes", bytes),
		zap.Error(reason))
}

// Reader reassembles logical records from a log file.
type Reader struct {
	file     files.SequentialFile
	reporter Reporter
	checksum bool

	backing []byte // one block of storage
	buf     []byte // unread suffix of backing
	eof     bool

	// lastRecordOffset is the physical offset of the last record
	// returned by ReadRecord.
	lastRecordOffset uint64

	// endOfBufferOffset is the file offset just past buf's end.
	endOfBufferOffset uint64

	// initialOffset: records that begin before it are skipped.
	initialOffset uint64

	// resyncing drops fragments until the next record that is not a
	// continuation, so starting mid-record is not mistaken for a fresh
	// logical record.
	resyncing bool
}

// NewReader creates a reader that returns records beginning at or past
// initialOffset. If checksum is true, CRCs are verified. reporter may
// be nil.
func NewReader(file files.SequentialFile, reporter Reporter, checksum bool, initialOffset uint64) *Reader {
	return &Reader{
		file:          file,
		reporter:      reporter,
		checksum:      checksum,
		backing:       make([]byte, BlockSize),
		initialOffset: initialOffset,
		resyncing:     initialOffset > 0,
	}
}

// LastRecordOffset returns the physical offset of the most recent
// record returned by ReadRecord.
func (r *Reader) LastRecordOffset() uint64 {
	return r.lastRecordOffset
}

// skipToInitialBlock positions the file at the start of the first block
// that can contain the initial offset. A target inside a block's
// trailing zero region (fewer than 7 bytes) belongs to the next block.
func (r *Reader) skipToInitialBlock() bool {
	offsetInBlock := r.initialOffset % BlockSize
	blockStart := r.initialOffset - offsetInBlock
	if offsetInBlock > BlockSize-6 {
		blockStart += BlockSize
	}
	r.endOfBufferOffset = blockStart
	if blockStart > 0 {
		if err := r.file.Skip(int64(blockStart)); err != nil {
			r.reportDrop(blockStart, status.IOError(err))
			return false
		}
	}
	return true
}

// ReadRecord returns the next logical record at or past the initial
// offset. The returned slice is valid until the next call. ok is false
// at end of input.
func (r *Reader) ReadRecord() (record []byte, ok bool) {
	if r.lastRecordOffset < r.initialOffset {
		if !r.skipToInitialBlock() {
			return nil, false
		}
	}

	var scratch []byte
	inFragmentedRecord := false
	// Offset of the logical record being assembled.
	var prospectiveOffset uint64

	for {
		t, fragment := r.readPhysicalRecord()

		// Offset of the fragment just read.
		physicalOffset := r.endOfBufferOffset - uint64(len(r.buf)) - HeaderSize - uint64(len(fragment))

		if r.resyncing {
			switch t {
			case recordMiddle:
				continue
			case recordLast:
				r.resyncing = false
				continue
			case recordBad:
				continue
			default:
				r.resyncing = false
			}
		}

		switch t {
		case recordFull:
			if inFragmentedRecord {
				r.reportCorruption(len(scratch), "partial record without end(1)")
			}
			r.lastRecordOffset = physicalOffset
			return fragment, true

		case recordFirst:
			if inFragmentedRecord {
				r.reportCorruption(len(scratch), "partial record without end(2)")
			}
			prospectiveOffset = physicalOffset
			scratch = append(scratch[:0], fragment...)
			inFragmentedRecord = true

		case recordMiddle:
			if !inFragmentedRecord {
				r.reportCorruption(len(fragment), "missing start of fragmented record(1)")
			} else {
				scratch = append(scratch, fragment...)
			}

		case recordLast:
			if !inFragmentedRecord {
				r.reportCorruption(len(fragment), "missing start of fragmented record(2)")
			} else {
				scratch = append(scratch, fragment...)
				r.lastRecordOffset = prospectiveOffset
				return scratch, true
			}

		case recordEOF:
			if inFragmentedRecord {
				// The writer died mid-record; its tail is invisible,
				// not corrupt.
				scratch = nil
			}
			return nil, false

		case recordBad:
			if inFragmentedRecord {
				r.reportCorruption(len(scratch), "error in middle of record")
				inFragmentedRecord = false
				scratch = nil
			}

		default:
			size := len(fragment)
			if inFragmentedRecord {
				size += len(scratch)
			}
			r.reportCorruption(size, "unknown record type")
			inFragmentedRecord = false
			scratch = nil
		}
	}
}

// readPhysicalRecord returns the next physical record's type and
// payload, or one of the recordEOF/recordBad sentinels.
func (r *Reader) readPhysicalRecord() (int, []byte) {
	for {
		if len(r.buf) < HeaderSize {
			if !r.eof {
				// Skip the block's trailing zero region, if any, and
				// read the next block.
				r.buf = nil
				n, err := io.ReadFull(r.file, r.backing)
				r.endOfBufferOffset += uint64(n)
				r.buf = r.backing[:n]
				if err == io.ErrUnexpectedEOF || err == io.EOF {
					r.eof = true
				} else if err != nil {
					r.buf = nil
					r.reportDrop(BlockSize, status.IOError(err))
					r.eof = true
					return recordEOF, nil
				}
				continue
			}
			// A truncated header at end of file is the result of a
			// writer crash mid-header; treat it as end of input.
			r.buf = nil
			return recordEOF, nil
		}

		header := r.buf
		length := int(binary.LittleEndian.Uint16(header[4:6]))
		t := int(header[6])
		if HeaderSize+length > len(r.buf) {
			dropped := len(r.buf)
			r.buf = nil
			if !r.eof {
				r.reportCorruption(dropped, "bad record length")
				return recordBad, nil
			}
			// Truncated payload at end of file: writer crash, not
			// corruption.
			return recordEOF, nil
		}

		if t == recordZero && length == 0 {
			// Zero-filled region, e.g. from file preallocation. Skip
			// the block without reporting.
			r.buf = nil
			return recordBad, nil
		}

		if r.checksum {
			expected := crc.Unmask(binary.LittleEndian.Uint32(header[0:4]))
			actual := crc.Value(header[6 : HeaderSize+length])
			if expected != actual {
				dropped := len(r.buf)
				r.buf = nil
				r.reportCorruption(dropped, "checksum mismatch")
				return recordBad, nil
			}
		}

		fragment := header[HeaderSize : HeaderSize+length]
		r.buf = r.buf[HeaderSize+length:]

		// Skip physical records that started before the initial offset.
		if r.endOfBufferOffset-uint64(len(r.buf))-HeaderSize-uint64(length) < r.initialOffset {
			return recordBad, nil
		}

		return t, fragment
	}
}

func (r *Reader) reportCorruption(bytes int, reason string) {
	r.reportDrop(uint64(bytes), status.Corruption("%s", reason))
}

// reportDrop notifies the reporter unless the dropped range lies wholly
// before the initial offset.
func (r *Reader) reportDrop(bytes uint64, reason error) {
	if r.reporter == nil {
		return
	}
	if r.endOfBufferOffset-uint64(len(r.buf))-bytes < r.initialOffset {
		return
	}
	r.reporter.Corruption(int(bytes), reason)
}
