package block

import (
	"encoding/binary"

	"github.com/granitedb/granite/pkg/common/status"
)

// Block is a parsed, immutable block. The contents may be owned (a
// freshly read and decompressed block) or borrowed (cached data); the
// block itself never mutates them.
type Block struct {
	data          []byte
	restartOffset int
	numRestarts   int
}

// New validates the trailer of contents and returns a Block over it.
func New(contents []byte) (*Block, error) {
	if len(contents) < 4 {
		return nil, status.Corruption("block too small for restart count")
	}
	numRestarts := int(binary.LittleEndian.Uint32(contents[len(contents)-4:]))
	maxRestarts := (len(contents) - 4) / 4
	if numRestarts > maxRestarts {
		return nil, status.Corruption("block restart count %d exceeds capacity %d",
			numRestarts, maxRestarts)
	}
	return &Block{
		data:          contents,
		restartOffset: len(contents) - 4*(numRestarts+1),
		numRestarts:   numRestarts,
	}, nil
}

// Size returns the byte length of the block contents.
func (b *Block) Size() int { return len(b.data) }

func (b *Block) restartPoint(i int) int {
	return int(binary.LittleEndian.Uint32(b.data[b.restartOffset+4*i:]))
}

// decodeEntry parses the entry header at offset p. It returns the
// shared/non-shared key lengths, the value length, and the offset of
// the key suffix, or ok == false on malformed data.
func (b *Block) decodeEntry(p int) (shared, nonShared, valueLen uint32, keyOff int, ok bool) {
	limit := b.restartOffset
	if p >= limit {
		return 0, 0, 0, 0, false
	}
	data := b.data[p:limit]

	var n, total int
	if shared, n = uvarint32(data); n == 0 {
		return 0, 0, 0, 0, false
	}
	total = n
	if nonShared, n = uvarint32(data[total:]); n == 0 {
		return 0, 0, 0, 0, false
	}
	total += n
	if valueLen, n = uvarint32(data[total:]); n == 0 {
		return 0, 0, 0, 0, false
	}
	total += n
	if uint64(total)+uint64(nonShared)+uint64(valueLen) > uint64(len(data)) {
		return 0, 0, 0, 0, false
	}
	return shared, nonShared, valueLen, p + total, true
}

func uvarint32(data []byte) (uint32, int) {
	v, n := binary.Uvarint(data)
	if n <= 0 || v > 0xffffffff {
		return 0, 0
	}
	return uint32(v), n
}
