package keys

import "encoding/binary"

// Varint and length-prefix helpers shared by the memtable entry layout
// and the write batch wire format. Encoding matches encoding/binary's
// unsigned varint.

// AppendUvarint32 appends the varint encoding of v to dst.
func AppendUvarint32(dst []byte, v uint32) []byte {
	return binary.AppendUvarint(dst, uint64(v))
}

// GetUvarint32 decodes a varint32 from the front of data. It returns
// the value and the number of bytes consumed, or n == 0 if data is
// truncated or the value overflows 32 bits.
func GetUvarint32(data []byte) (uint32, int) {
	v, n := binary.Uvarint(data)
	if n <= 0 || v > 0xffffffff {
		return 0, 0
	}
	return uint32(v), n
}

// AppendLengthPrefixed appends varint32(len(s)) followed by s.
func AppendLengthPrefixed(dst, s []byte) []byte {
	dst = AppendUvarint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// GetLengthPrefixed decodes a length-prefixed slice from the front of
// data, returning the slice and the remainder. The returned slice
// aliases data.
func GetLengthPrefixed(data []byte) (s, rest []byte, ok bool) {
	l, n := GetUvarint32(data)
	if n == 0 || uint64(n)+uint64(l) > uint64(len(data)) {
		return nil, nil, false
	}
	return data[n : n+int(l)], data[n+int(l):], true
}
