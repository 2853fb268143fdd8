package iterator

// Iterator defines the interface for traversing key-value pairs. It is
// shared by the memtable, block, and table iterators so compositions
// like the two-level iterator work against any source.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// SeekToLast positions the iterator at the last key
	SeekToLast()

	// Seek positions the iterator at the first key >= target
	Seek(target []byte) bool

	// Next advances the iterator to the next key
	Next() bool

	// Prev moves the iterator to the previous key
	Prev() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool

	// Error returns the first failure encountered while iterating, if any
	Error() error

	// Close releases resources pinned by the iterator, such as cached
	// blocks. Using the iterator after Close is undefined.
	Close() error
}
