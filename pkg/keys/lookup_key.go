package keys

import "encoding/binary"

// lookupKeyInline is the inline buffer size; lookups on short keys
// avoid a heap allocation.
const lookupKeyInline = 200

// LookupKey is the key form used for point lookups. One buffer holds
// three overlapping views:
//
//	MemtableKey: varint32(len(internal key)) ‖ user key ‖ trailer
//	InternalKey:                               user key ‖ trailer
//	UserKey:                                   user key
//
// The trailer carries the snapshot sequence number with TypeForSeek so
// the memtable seek lands on the newest visible version.
type LookupKey struct {
	buf    []byte
	kstart int
	inline [lookupKeyInline]byte
}

// NewLookupKey builds a lookup key for userKey at snapshot sequence seq.
func NewLookupKey(userKey []byte, seq uint64) *LookupKey {
	lk := &LookupKey{}
	needed := len(userKey) + TrailerLen + binary.MaxVarintLen32
	if needed <= lookupKeyInline {
		lk.buf = lk.inline[:0]
	} else {
		lk.buf = make([]byte, 0, needed)
	}
	lk.buf = AppendUvarint32(lk.buf, uint32(len(userKey)+TrailerLen))
	lk.kstart = len(lk.buf)
	lk.buf = AppendInternalKey(lk.buf, userKey, seq, TypeForSeek)
	return lk
}

// MemtableKey returns the length-prefixed internal key used to seek the
// memtable's skip list.
func (lk *LookupKey) MemtableKey() []byte { return lk.buf }

// InternalKey returns the encoded internal key.
func (lk *LookupKey) InternalKey() []byte { return lk.buf[lk.kstart:] }

// UserKey returns the user key portion.
func (lk *LookupKey) UserKey() []byte { return lk.buf[lk.kstart : len(lk.buf)-TrailerLen] }
