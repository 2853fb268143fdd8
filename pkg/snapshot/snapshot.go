// Package snapshot tracks outstanding read sequence numbers. Each
// snapshot pins the versions at or below its sequence; compaction may
// only drop versions invisible to the oldest live snapshot.
package snapshot

// Snapshot is a node in the list, holding one sequence number. Its
// lifetime is controlled by the caller through List.Delete.
type Snapshot struct {
	seq  uint64
	prev *Snapshot
	next *Snapshot
	list *List
}

// Sequence returns the snapshot's sequence number.
func (s *Snapshot) Sequence() uint64 { return s.seq }

// List is a circular doubly linked list of snapshots with a sentinel
// head, ordered oldest to newest. It is not synchronized; the owning
// database guards it with its writer mutex.
type List struct {
	head Snapshot
}

// NewList creates an empty snapshot list.
func NewList() *List {
	l := &List{}
	l.head.prev = &l.head
	l.head.next = &l.head
	l.head.list = l
	return l
}

// Empty reports whether no snapshots are outstanding.
func (l *List) Empty() bool { return l.head.next == &l.head }

// Oldest returns the snapshot with the smallest sequence number.
// Precondition: the list is nonempty.
func (l *List) Oldest() *Snapshot { return l.head.next }

// Newest returns the most recently created snapshot.
// Precondition: the list is nonempty.
func (l *List) Newest() *Snapshot { return l.head.prev }

// New links a snapshot at the tail. Sequence numbers are monotone, so
// the tail is always the newest.
func (l *List) New(seq uint64) *Snapshot {
	if !l.Empty() && l.Newest().seq > seq {
		panic("snapshot: sequence numbers out of order")
	}
	s := &Snapshot{seq: seq, list: l}
	s.next = &l.head
	s.prev = l.head.prev
	s.prev.next = s
	s.next.prev = s
	return s
}

// Delete unlinks s from the list.
func (l *List) Delete(s *Snapshot) {
	if s.list != l {
		panic("snapshot: delete from wrong list")
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev = nil
	s.next = nil
}
