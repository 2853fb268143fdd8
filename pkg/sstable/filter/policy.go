// Package filter implements the table's key summaries: the pluggable
// filter policy (with the standard Bloom filter), and the filter block
// that maps 2 KiB regions of a table's data to per-region filters.
package filter

// Policy builds and queries compact summaries of key sets.
type Policy interface {
	// Name identifies the policy; it is embedded in the table's
	// meta-index, and a reader only uses a filter block whose name
	// matches its configured policy.
	Name() string

	// CreateFilter appends a filter summarizing keys to dst and
	// returns the extended slice.
	CreateFilter(keys [][]byte, dst []byte) []byte

	// KeyMayMatch reports whether key could be in the set the filter
	// was built from. False positives are allowed, false negatives are
	// not.
	KeyMayMatch(key, filter []byte) bool
}
