// Package wal implements the block-framed write-ahead log. A log file
// is a stream of 32 KiB blocks; each block holds physical records with
// a 7-byte header, and a logical record may span blocks as a
// First/Middle*/Last chain.
package wal

const (
	// BlockSize is the framing unit of a log file.
	BlockSize = 32 * 1024

	// HeaderSize is the physical record header: checksum (4 bytes),
	// length (2 bytes), type (1 byte).
	HeaderSize = 4 + 2 + 1
)

// Record types. Zero is reserved for preallocated and zero-filled
// regions and never marks real data.
const (
	recordZero   = 0
	recordFull   = 1
	recordFirst  = 2
	recordMiddle = 3
	recordLast   = 4

	maxRecordType = recordLast

	// Internal sentinels returned by readPhysicalRecord; they sit above
	// the range of the one-byte on-disk type field.
	recordEOF = 0x100
	recordBad = 0x101
)
