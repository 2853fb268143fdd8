package filter

import "encoding/binary"

const (
	// baseLg sets the filter granularity: one filter per 2^baseLg
	// bytes of table data offset.
	baseLg     = 11
	filterBase = 1 << baseLg
)

// BlockBuilder assembles the filter block for one table. The builder
// is fed every key added to the table, interleaved with StartBlock
// calls announcing each data block's file offset.
//
// Block layout:
//
//	filter* ‖ fixed32 offsets[N] ‖ fixed32 array_offset ‖ byte base_lg
type BlockBuilder struct {
	policy Policy

	keys   []byte   // flattened key bytes
	starts []int    // per-key start offset into keys
	result []byte   // assembled filter data so far
	tmp    [][]byte // scratch views into keys, reused per filter
	// offsets[i] is the position in result where filter i begins.
	offsets []uint32
}

// NewBlockBuilder creates a builder for the given policy.
func NewBlockBuilder(policy Policy) *BlockBuilder {
	return &BlockBuilder{policy: policy}
}

// StartBlock tells the builder a data block begins at blockOffset.
// Every region boundary crossed since the last call closes one filter;
// regions with no keys produce empty filters.
func (b *BlockBuilder) StartBlock(blockOffset uint64) {
	filterIndex := blockOffset / filterBase
	if filterIndex < uint64(len(b.offsets)) {
		panic("filter: data block offsets moved backwards")
	}
	for filterIndex > uint64(len(b.offsets)) {
		b.generateFilter()
	}
}

// AddKey records a key for the current region.
func (b *BlockBuilder) AddKey(key []byte) {
	b.starts = append(b.starts, len(b.keys))
	b.keys = append(b.keys, key...)
}

// Finish closes the final filter and returns the assembled block.
func (b *BlockBuilder) Finish() []byte {
	if len(b.starts) > 0 {
		b.generateFilter()
	}

	arrayOffset := uint32(len(b.result))
	for _, off := range b.offsets {
		b.result = binary.LittleEndian.AppendUint32(b.result, off)
	}
	b.result = binary.LittleEndian.AppendUint32(b.result, arrayOffset)
	b.result = append(b.result, baseLg)
	return b.result
}

func (b *BlockBuilder) generateFilter() {
	numKeys := len(b.starts)
	b.offsets = append(b.offsets, uint32(len(b.result)))
	if numKeys == 0 {
		// Empty region: the filter is zero-length and shares its
		// offset with the next one.
		return
	}

	// Carve per-key views out of the flat buffer.
	b.starts = append(b.starts, len(b.keys)) // sentinel
	b.tmp = b.tmp[:0]
	for i := 0; i < numKeys; i++ {
		b.tmp = append(b.tmp, b.keys[b.starts[i]:b.starts[i+1]])
	}

	b.result = b.policy.CreateFilter(b.tmp, b.result)
	b.keys = b.keys[:0]
	b.starts = b.starts[:0]
}

// BlockReader answers may-match queries against a table's filter block.
type BlockReader struct {
	policy Policy
	data   []byte
	offset []byte // start of the offset array
	num    int
	baseLg uint
}

// NewBlockReader parses contents; a malformed block yields a reader
// that reports every key as a possible match.
func NewBlockReader(policy Policy, contents []byte) *BlockReader {
	r := &BlockReader{policy: policy}
	n := len(contents)
	if n < 5 {
		return r
	}
	r.baseLg = uint(contents[n-1])
	lastWord := binary.LittleEndian.Uint32(contents[n-5 : n-1])
	if lastWord > uint32(n-5) {
		return r
	}
	r.data = contents
	r.offset = contents[lastWord:]
	r.num = (n - 5 - int(lastWord)) / 4
	return r
}

// KeyMayMatch reports whether key may be present in the data block
// starting at blockOffset. Missing or malformed filters err on the
// side of a match.
func (r *BlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	index := blockOffset >> r.baseLg
	if index >= uint64(r.num) {
		// Out of range: treat as a potential match.
		return true
	}
	start := binary.LittleEndian.Uint32(r.offset[index*4:])
	limit := binary.LittleEndian.Uint32(r.offset[(index+1)*4:])
	if start > limit || uint64(limit) > uint64(len(r.data)-(r.num*4+5)) {
		// Corrupt bounds; consider it a match for safety.
		return true
	}
	if start == limit {
		// Empty filters do not match any keys.
		return false
	}
	return r.policy.KeyMayMatch(key, r.data[start:limit])
}
