// Package footer defines the fixed tail of a table file and the block
// handles that locate blocks within it.
package footer

import (
	"encoding/binary"

	"github.com/granitedb/granite/pkg/common/status"
)

const (
	// Magic identifies a table file; little-endian in the last 8 bytes.
	Magic = uint64(0xdb4775248b80fb57)

	// MaxHandleEncodedLength bounds a handle's varint encoding.
	MaxHandleEncodedLength = 10 + 10

	// EncodedLength is the exact footer size: two handles padded to 40
	// bytes, then the magic.
	EncodedLength = 2*MaxHandleEncodedLength + 8

	// BlockTrailerSize is the trailer appended to every block on disk:
	// one compression-type byte and a masked CRC32C.
	BlockTrailerSize = 5
)

// BlockHandle locates a block: its file offset and its size excluding
// the trailer.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the handle's varint encoding to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	return binary.AppendUvarint(dst, h.Size)
}

// DecodeBlockHandle parses a handle from the front of data, returning
// the remainder.
func DecodeBlockHandle(data []byte) (BlockHandle, []byte, error) {
	offset, n := binary.Uvarint(data)
	if n <= 0 {
		return BlockHandle{}, nil, status.Corruption("bad block handle offset")
	}
	data = data[n:]
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return BlockHandle{}, nil, status.Corruption("bad block handle size")
	}
	return BlockHandle{Offset: offset, Size: size}, data[n:], nil
}

// Footer holds the handles of the meta-index and index blocks.
type Footer struct {
	MetaIndexHandle BlockHandle
	IndexHandle     BlockHandle
}

// Encode serializes the footer to its fixed 48-byte form.
func (f *Footer) Encode() []byte {
	result := make([]byte, 0, EncodedLength)
	result = f.MetaIndexHandle.EncodeTo(result)
	result = f.IndexHandle.EncodeTo(result)
	// Zero padding up to the magic.
	result = result[:2*MaxHandleEncodedLength]
	result = binary.LittleEndian.AppendUint64(result, Magic)
	return result
}

// Decode parses a footer from the last EncodedLength bytes of a table.
func Decode(data []byte) (*Footer, error) {
	if len(data) < EncodedLength {
		return nil, status.Corruption("footer too short: %d bytes", len(data))
	}
	data = data[len(data)-EncodedLength:]

	magic := binary.LittleEndian.Uint64(data[EncodedLength-8:])
	if magic != Magic {
		return nil, status.Corruption("not a table file (bad magic)")
	}

	f := &Footer{}
	var err error
	rest := data[:EncodedLength-8]
	if f.MetaIndexHandle, rest, err = DecodeBlockHandle(rest); err != nil {
		return nil, err
	}
	if f.IndexHandle, _, err = DecodeBlockHandle(rest); err != nil {
		return nil, err
	}
	return f, nil
}
