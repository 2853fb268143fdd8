package keys

import (
	"bytes"
	"encoding/binary"
)

// Comparator defines a total order over keys and the key-shortening
// hooks the table builder uses to shrink index blocks.
type Comparator interface {
	// Name identifies the comparator. A table written with one
	// comparator must be read with a comparator of the same name.
	Name() string

	// Compare returns a three-way comparison between a and b.
	Compare(a, b []byte) int

	// FindShortestSeparator returns a key s with start <= s < limit,
	// preferring one shorter than start. Precondition: start < limit.
	FindShortestSeparator(start, limit []byte) []byte

	// FindShortSuccessor returns a short key s with key <= s.
	FindShortSuccessor(key []byte) []byte
}

// BytewiseComparator orders keys lexicographically by unsigned byte
// value. It is the default user comparator.
type BytewiseComparator struct{}

func (BytewiseComparator) Name() string { return "granite.BytewiseComparator" }

func (BytewiseComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }

func (BytewiseComparator) FindShortestSeparator(start, limit []byte) []byte {
	// Length of the common prefix.
	n := len(start)
	if len(limit) < n {
		n = len(limit)
	}
	diff := 0
	for diff < n && start[diff] == limit[diff] {
		diff++
	}
	if diff >= n {
		// One key is a prefix of the other; leave start alone.
		return start
	}
	if b := start[diff]; b < 0xff && b+1 < limit[diff] {
		sep := append([]byte(nil), start[:diff+1]...)
		sep[diff]++
		return sep
	}
	return start
}

func (BytewiseComparator) FindShortSuccessor(key []byte) []byte {
	for i, b := range key {
		if b != 0xff {
			succ := append([]byte(nil), key[:i+1]...)
			succ[i]++
			return succ
		}
	}
	// Run of 0xff bytes; key is its own successor.
	return key
}

// InternalKeyComparator orders encoded internal keys: ascending by user
// key, then descending by trailer so newer versions of a user key come
// first.
type InternalKeyComparator struct {
	user Comparator
}

// NewInternalKeyComparator wraps a user comparator.
func NewInternalKeyComparator(user Comparator) *InternalKeyComparator {
	return &InternalKeyComparator{user: user}
}

// UserComparator returns the wrapped user comparator.
func (c *InternalKeyComparator) UserComparator() Comparator { return c.user }

func (c *InternalKeyComparator) Name() string { return "granite.InternalKeyComparator" }

func (c *InternalKeyComparator) Compare(a, b []byte) int {
	if r := c.user.Compare(UserKey(a), UserKey(b)); r != 0 {
		return r
	}
	at, bt := Trailer(a), Trailer(b)
	switch {
	case at > bt:
		return -1
	case at < bt:
		return 1
	default:
		return 0
	}
}

func (c *InternalKeyComparator) FindShortestSeparator(start, limit []byte) []byte {
	userStart, userLimit := UserKey(start), UserKey(limit)
	tmp := c.user.FindShortestSeparator(userStart, userLimit)
	if len(tmp) < len(userStart) && c.user.Compare(userStart, tmp) < 0 {
		// A physically shorter user key exists between the two. Tack on
		// the highest possible trailer so it sorts before every version
		// of that user key.
		sep := append([]byte(nil), tmp...)
		return binary.LittleEndian.AppendUint64(sep, PackTrailer(MaxSequenceNumber, TypeForSeek))
	}
	return start
}

func (c *InternalKeyComparator) FindShortSuccessor(key []byte) []byte {
	userKey := UserKey(key)
	tmp := c.user.FindShortSuccessor(userKey)
	if len(tmp) < len(userKey) && c.user.Compare(userKey, tmp) < 0 {
		succ := append([]byte(nil), tmp...)
		return binary.LittleEndian.AppendUint64(succ, PackTrailer(MaxSequenceNumber, TypeForSeek))
	}
	return key
}
