// Package block implements the sorted key/value block shared by table
// data, index, and meta-index sections. Keys are prefix-compressed
// between restart points; the restart array at the tail anchors binary
// search.
package block

import (
	"bytes"
	"encoding/binary"

	"github.com/granitedb/granite/pkg/keys"
)

// Builder serializes a sorted run of entries.
//
// Entry layout:
//
//	varint32 shared ‖ varint32 non_shared ‖ varint32 value_len ‖
//	key_suffix ‖ value
//
// An entry at a restart point stores its key in full (shared == 0).
type Builder struct {
	restartInterval int
	buf             []byte
	restarts        []uint32
	counter         int
	finished        bool
	lastKey         []byte
}

// NewBuilder creates a builder; restartInterval is the number of keys
// between restart points (index blocks use 1).
func NewBuilder(restartInterval int) *Builder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &Builder{
		restartInterval: restartInterval,
		restarts:        []uint32{0},
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.counter = 0
	b.finished = false
	b.lastKey = b.lastKey[:0]
}

// Empty reports whether no entries have been added since the last
// Reset.
func (b *Builder) Empty() bool { return len(b.buf) == 0 }

// CurrentSizeEstimate returns the size of the block were Finish called
// now.
func (b *Builder) CurrentSizeEstimate() int {
	return len(b.buf) + len(b.restarts)*4 + 4
}

// Add appends an entry. Keys must arrive in strictly increasing order;
// the table builder enforces this before calling.
func (b *Builder) Add(key, value []byte) {
	if b.finished {
		panic("block: add after finish")
	}

	shared := 0
	if b.counter < b.restartInterval {
		// Length of the prefix shared with the previous key.
		n := len(b.lastKey)
		if len(key) < n {
			n = len(key)
		}
		for shared < n && b.lastKey[shared] == key[shared] {
			shared++
		}
	} else {
		// Restart compression from a full key.
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}
	nonShared := len(key) - shared

	b.buf = keys.AppendUvarint32(b.buf, uint32(shared))
	b.buf = keys.AppendUvarint32(b.buf, uint32(nonShared))
	b.buf = keys.AppendUvarint32(b.buf, uint32(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:shared], key[shared:]...)
	if !bytes.Equal(b.lastKey, key) {
		panic("block: last key reconstruction failed")
	}
	b.counter++
}

// Finish appends the restart array and count and returns the block
// contents. The slice is valid until Reset.
func (b *Builder) Finish() []byte {
	for _, r := range b.restarts {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, r)
	}
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(len(b.restarts)))
	b.finished = true
	return b.buf
}
