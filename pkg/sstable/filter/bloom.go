package filter

// bloomPolicy is the standard filter: a flat Bloom filter per 2 KiB
// region, double-hashed from a single 32-bit base hash.
type bloomPolicy struct {
	bitsPerKey int
	k          int
}

// NewBloomPolicy returns a Bloom filter policy using about bitsPerKey
// bits per key. 10 bits per key yields roughly a 1% false positive
// rate.
func NewBloomPolicy(bitsPerKey int) Policy {
	// Round down probe count to reduce probing cost a little.
	k := int(float64(bitsPerKey) * 0.69) // 0.69 =~ ln(2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &bloomPolicy{bitsPerKey: bitsPerKey, k: k}
}

func (p *bloomPolicy) Name() string { return "granite.BuiltinBloomFilter" }

func (p *bloomPolicy) CreateFilter(keys [][]byte, dst []byte) []byte {
	bits := len(keys) * p.bitsPerKey
	// A tiny filter on few keys would have a huge false positive rate.
	if bits < 64 {
		bits = 64
	}
	nBytes := (bits + 7) / 8
	bits = nBytes * 8

	base := len(dst)
	dst = append(dst, make([]byte, nBytes)...)
	array := dst[base:]
	for _, key := range keys {
		// Double hashing: one base hash, k probes derived by a rotated
		// delta.
		h := bloomHash(key)
		delta := h>>17 | h<<15
		for j := 0; j < p.k; j++ {
			bitPos := h % uint32(bits)
			array[bitPos/8] |= 1 << (bitPos % 8)
			h += delta
		}
	}
	// Remember the probe count so the filter can be queried by a
	// reader built with different parameters.
	dst = append(dst, byte(p.k))
	return dst
}

func (p *bloomPolicy) KeyMayMatch(key, filter []byte) bool {
	if len(filter) < 2 {
		return false
	}
	bits := uint32((len(filter) - 1) * 8)
	k := filter[len(filter)-1]
	if k > 30 {
		// Reserved for future encodings; be conservative.
		return true
	}

	h := bloomHash(key)
	delta := h>>17 | h<<15
	for j := byte(0); j < k; j++ {
		bitPos := h % bits
		if filter[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// bloomHash hashes key for filter probing. The tail bytes are
// sign-extended so the output stays compatible with filters written by
// other implementations of the same format.
func bloomHash(b []byte) uint32 {
	const (
		seed = 0xbc9f1d34
		m    = 0xc6a4a793
	)
	h := uint32(seed) ^ uint32(len(b))*m
	for ; len(b) >= 4; b = b[4:] {
		h += uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		h *= m
		h ^= h >> 16
	}
	switch len(b) {
	case 3:
		h += uint32(int8(b[2])) << 16
		fallthrough
	case 2:
		h += uint32(int8(b[1])) << 8
		fallthrough
	case 1:
		h += uint32(int8(b[0]))
		h *= m
		h ^= h >> 24
	}
	return h
}
