// Package batch implements the atomic write unit. A WriteBatch holds
// one or more mutations in the exact byte layout that is appended to
// the write-ahead log, so committing a batch is a single log record
// followed by a replay of the same bytes into the memtable.
package batch

import (
	"encoding/binary"

	"github.com/granitedb/granite/pkg/common/status"
	"github.com/granitedb/granite/pkg/keys"
	"github.com/granitedb/granite/pkg/memtable"
)

// headerSize covers the 8-byte sequence number and 4-byte count that
// prefix every batch.
const headerSize = 12

// Handler receives the mutations of a batch during iteration.
type Handler interface {
	Put(key, value []byte)
	Delete(key []byte)
}

// WriteBatch accumulates puts and deletes. The zero value is not
// usable; construct with New.
//
// Wire layout:
//
//	fixed64 sequence ‖ fixed32 count ‖ record*
//	record := 0x1 ‖ lp(key) ‖ lp(value)   (put)
//	        | 0x0 ‖ lp(key)               (delete)
type WriteBatch struct {
	rep []byte
}

// New creates an empty batch.
func New() *WriteBatch {
	return &WriteBatch{rep: make([]byte, headerSize)}
}

// Clear resets the batch to empty, retaining its buffer.
func (b *WriteBatch) Clear() {
	b.rep = b.rep[:headerSize]
	for i := range b.rep {
		b.rep[i] = 0
	}
}

// Put records a key/value mutation.
func (b *WriteBatch) Put(key, value []byte) {
	b.setCount(b.Count() + 1)
	b.rep = append(b.rep, byte(keys.TypeValue))
	b.rep = keys.AppendLengthPrefixed(b.rep, key)
	b.rep = keys.AppendLengthPrefixed(b.rep, value)
}

// Delete records a tombstone for key.
func (b *WriteBatch) Delete(key []byte) {
	b.setCount(b.Count() + 1)
	b.rep = append(b.rep, byte(keys.TypeDeletion))
	b.rep = keys.AppendLengthPrefixed(b.rep, key)
}

// Count returns the number of records in the batch.
func (b *WriteBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(b.rep[8:headerSize])
}

func (b *WriteBatch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.rep[8:headerSize], n)
}

// Sequence returns the base sequence number stamped on the batch.
func (b *WriteBatch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(b.rep[:8])
}

// SetSequence stamps the base sequence number. The commit path does
// this under the writer lock just before appending to the log.
func (b *WriteBatch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(b.rep[:8], seq)
}

// Contents exposes the wire bytes; this is exactly the payload written
// to the log.
func (b *WriteBatch) Contents() []byte {
	return b.rep
}

// SetContents replaces the batch with bytes recovered from a log
// record.
func (b *WriteBatch) SetContents(data []byte) error {
	if len(data) < headerSize {
		return status.Corruption("batch contents too small: %d bytes", len(data))
	}
	b.rep = append(b.rep[:0], data...)
	return nil
}

// ApproximateSize returns the serialized size of the batch.
func (b *WriteBatch) ApproximateSize() int {
	return len(b.rep)
}

// Append concatenates src's records onto b. The destination sequence
// header is left untouched.
func (b *WriteBatch) Append(src *WriteBatch) {
	b.setCount(b.Count() + src.Count())
	b.rep = append(b.rep, src.rep[headerSize:]...)
}

// Iterate replays the batch's records into h in declaration order.
// Malformed framing or a count mismatch yields a Corruption error.
func (b *WriteBatch) Iterate(h Handler) error {
	input := b.rep
	if len(input) < headerSize {
		return status.Corruption("malformed batch: too small")
	}
	input = input[headerSize:]

	var found uint32
	for len(input) > 0 {
		tag := keys.ValueType(input[0])
		input = input[1:]
		switch tag {
		case keys.TypeValue:
			key, rest, ok := keys.GetLengthPrefixed(input)
			if !ok {
				return status.Corruption("bad batch put key")
			}
			value, rest, ok2 := keys.GetLengthPrefixed(rest)
			if !ok2 {
				return status.Corruption("bad batch put value")
			}
			h.Put(key, value)
			input = rest
		case keys.TypeDeletion:
			key, rest, ok := keys.GetLengthPrefixed(input)
			if !ok {
				return status.Corruption("bad batch delete key")
			}
			h.Delete(key)
			input = rest
		default:
			return status.Corruption("unknown batch record type %d", tag)
		}
		found++
	}
	if found != b.Count() {
		return status.Corruption("batch count mismatch: header %d, records %d", b.Count(), found)
	}
	return nil
}

// memTableInserter assigns consecutive sequence numbers starting at the
// batch's base while applying records to a memtable.
type memTableInserter struct {
	seq uint64
	mem *memtable.MemTable
}

func (ins *memTableInserter) Put(key, value []byte) {
	ins.mem.Add(ins.seq, keys.TypeValue, key, value)
	ins.seq++
}

func (ins *memTableInserter) Delete(key []byte) {
	ins.mem.Add(ins.seq, keys.TypeDeletion, key, nil)
	ins.seq++
}

// InsertInto applies the batch to mem: record i receives sequence
// Sequence()+i.
func (b *WriteBatch) InsertInto(mem *memtable.MemTable) error {
	return b.Iterate(&memTableInserter{seq: b.Sequence(), mem: mem})
}
