package cache

import "bytes"

// handleTable is a chained hash table tuned for the cache: buckets are
// singly linked through the handles themselves, and the bucket array
// doubles whenever the element count passes its length, keeping chains
// around one element.
type handleTable struct {
	length uint32
	elems  uint32
	list   []*Handle
}

func newHandleTable() handleTable {
	t := handleTable{}
	t.resize()
	return t
}

// lookup returns the handle for (key, hash), or nil.
func (t *handleTable) lookup(key []byte, hash uint32) *Handle {
	return *t.findPointer(key, hash)
}

// insert adds h and returns the displaced handle with the same key, if
// any.
func (t *handleTable) insert(h *Handle) *Handle {
	ptr := t.findPointer(h.key, h.hash)
	old := *ptr
	if old != nil {
		h.nextHash = old.nextHash
	} else {
		h.nextHash = nil
	}
	*ptr = h
	if old == nil {
		t.elems++
		if t.elems > t.length {
			t.resize()
		}
	}
	return old
}

// remove unlinks and returns the handle for (key, hash), or nil.
func (t *handleTable) remove(key []byte, hash uint32) *Handle {
	ptr := t.findPointer(key, hash)
	h := *ptr
	if h != nil {
		*ptr = h.nextHash
		t.elems--
	}
	return h
}

// findPointer returns the location of the pointer that refers to the
// matching handle, or the chain's trailing nil slot — which is also
// where an insert goes.
func (t *handleTable) findPointer(key []byte, hash uint32) **Handle {
	ptr := &t.list[hash&(t.length-1)]
	for *ptr != nil && ((*ptr).hash != hash || !bytes.Equal(key, (*ptr).key)) {
		ptr = &(*ptr).nextHash
	}
	return ptr
}

func (t *handleTable) resize() {
	newLength := uint32(4)
	for newLength < t.elems {
		newLength *= 2
	}
	newList := make([]*Handle, newLength)
	for _, h := range t.list {
		for h != nil {
			next := h.nextHash
			slot := &newList[h.hash&(newLength-1)]
			h.nextHash = *slot
			*slot = h
			h = next
		}
	}
	t.list = newList
	t.length = newLength
}
