package memtable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/granitedb/granite/pkg/common/status"
	"github.com/granitedb/granite/pkg/keys"
)

func newTestMemTable() *MemTable {
	return New(keys.NewInternalKeyComparator(keys.BytewiseComparator{}))
}

func TestMemTableBasicOperations(t *testing.T) {
	mt := newTestMemTable()
	defer mt.Unref()

	mt.Add(1, keys.TypeValue, []byte("key1"), []byte("value1"))

	value, found, err := mt.Get(keys.NewLookupKey([]byte("key1"), 10))
	if !found || err != nil {
		t.Fatalf("expected to find key1, got found=%v err=%v", found, err)
	}
	if string(value) != "value1" {
		t.Errorf("expected value1, got %s", value)
	}

	// Missing key defers to older tables.
	_, found, err = mt.Get(keys.NewLookupKey([]byte("nonexistent"), 10))
	if found || err != nil {
		t.Errorf("expected miss for nonexistent key, got found=%v err=%v", found, err)
	}

	// A tombstone is found but reports NotFound.
	mt.Add(2, keys.TypeDeletion, []byte("key1"), nil)
	_, found, err = mt.Get(keys.NewLookupKey([]byte("key1"), 10))
	if !found {
		t.Fatal("expected tombstone to be found")
	}
	if !status.IsNotFound(err) {
		t.Errorf("expected NotFound for deleted key, got %v", err)
	}
}

// TestMemTableSnapshotVisibility covers version resolution: each read
// sees the newest version at or below its snapshot sequence.
func TestMemTableSnapshotVisibility(t *testing.T) {
	mt := newTestMemTable()
	defer mt.Unref()

	mt.Add(3, keys.TypeValue, []byte("k"), []byte("v3"))
	mt.Add(1, keys.TypeValue, []byte("k"), []byte("v1"))
	mt.Add(4, keys.TypeDeletion, []byte("k"), nil)

	// At sequence 5 the deletion at 4 wins.
	_, found, err := mt.Get(keys.NewLookupKey([]byte("k"), 5))
	if !found || !status.IsNotFound(err) {
		t.Errorf("seq 5: expected NotFound, got found=%v err=%v", found, err)
	}

	// At sequence 3 the value written at 3 is visible.
	v, found, err := mt.Get(keys.NewLookupKey([]byte("k"), 3))
	if !found || err != nil || string(v) != "v3" {
		t.Errorf("seq 3: expected v3, got %q found=%v err=%v", v, found, err)
	}

	// At sequence 2 only the write at 1 is visible.
	v, found, err = mt.Get(keys.NewLookupKey([]byte("k"), 2))
	if !found || err != nil || string(v) != "v1" {
		t.Errorf("seq 2: expected v1, got %q found=%v err=%v", v, found, err)
	}

	// At sequence 0 nothing is visible; the caller must consult older
	// tables.
	_, found, err = mt.Get(keys.NewLookupKey([]byte("k"), 0))
	if found || err != nil {
		t.Errorf("seq 0: expected miss, got found=%v err=%v", found, err)
	}
}

func TestMemTableEmptyValue(t *testing.T) {
	mt := newTestMemTable()
	defer mt.Unref()

	mt.Add(1, keys.TypeValue, []byte("empty"), []byte{})
	v, found, err := mt.Get(keys.NewLookupKey([]byte("empty"), 10))
	if !found || err != nil {
		t.Fatalf("expected to find empty value, found=%v err=%v", found, err)
	}
	if len(v) != 0 {
		t.Errorf("expected empty value, got %q", v)
	}
}

func TestMemTableIterator(t *testing.T) {
	mt := newTestMemTable()
	defer mt.Unref()

	const n = 100
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key%03d", i))
		mt.Add(uint64(i+1), keys.TypeValue, key, []byte(fmt.Sprintf("val%03d", i)))
	}

	it := mt.NewIterator()
	defer it.Close()

	count := 0
	var prevKey []byte
	for it.SeekToFirst(); it.Valid(); it.Next() {
		ukey, seq, typ, ok := keys.ParseInternalKey(it.Key())
		if !ok {
			t.Fatal("iterator yielded unparseable internal key")
		}
		if typ != keys.TypeValue {
			t.Errorf("unexpected type %d", typ)
		}
		want := fmt.Sprintf("key%03d", count)
		if string(ukey) != want {
			t.Fatalf("key %d: got %q, want %q", count, ukey, want)
		}
		if seq != uint64(count+1) {
			t.Errorf("key %d: got seq %d, want %d", count, seq, count+1)
		}
		if string(it.Value()) != fmt.Sprintf("val%03d", count) {
			t.Errorf("key %d: wrong value %q", count, it.Value())
		}
		if prevKey != nil && bytes.Compare(prevKey, it.Key()) >= 0 {
			t.Fatal("iterator out of order")
		}
		prevKey = append(prevKey[:0], it.Key()...)
		count++
	}
	if count != n {
		t.Errorf("iterated %d entries, want %d", count, n)
	}

	// Seek lands on the first version at or after the target.
	target := keys.AppendInternalKey(nil, []byte("key050"), keys.MaxSequenceNumber, keys.TypeForSeek)
	if !it.Seek(target) {
		t.Fatal("seek failed")
	}
	if ukey, _, _, _ := keys.ParseInternalKey(it.Key()); string(ukey) != "key050" {
		t.Errorf("seek landed on %q", ukey)
	}
}

func TestMemTableMultipleVersionsIterate(t *testing.T) {
	mt := newTestMemTable()
	defer mt.Unref()

	// Same user key three times; iteration order is newest first.
	mt.Add(1, keys.TypeValue, []byte("k"), []byte("v1"))
	mt.Add(2, keys.TypeValue, []byte("k"), []byte("v2"))
	mt.Add(3, keys.TypeDeletion, []byte("k"), nil)

	it := mt.NewIterator()
	defer it.Close()

	var seqs []uint64
	for it.SeekToFirst(); it.Valid(); it.Next() {
		_, seq, _, ok := keys.ParseInternalKey(it.Key())
		if !ok {
			t.Fatal("bad internal key")
		}
		seqs = append(seqs, seq)
	}
	if len(seqs) != 3 || seqs[0] != 3 || seqs[1] != 2 || seqs[2] != 1 {
		t.Errorf("version order: got %v, want [3 2 1]", seqs)
	}
}

func TestMemTableApproximateMemoryUsage(t *testing.T) {
	mt := newTestMemTable()
	defer mt.Unref()

	before := mt.ApproximateMemoryUsage()
	payload := 0
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key%06d", i))
		value := bytes.Repeat([]byte{'v'}, 100)
		mt.Add(uint64(i+1), keys.TypeValue, key, value)
		payload += len(key) + len(value)
	}
	grown := mt.ApproximateMemoryUsage() - before
	if grown < int64(payload) {
		t.Errorf("memory usage grew %d, want at least %d", grown, payload)
	}
}

func TestMemTableRefCounting(t *testing.T) {
	mt := newTestMemTable()
	mt.Add(1, keys.TypeValue, []byte("k"), []byte("v"))

	// A second reference keeps the table alive through the first unref.
	mt.Ref()
	mt.Unref()
	if _, found, _ := mt.Get(keys.NewLookupKey([]byte("k"), 5)); !found {
		t.Fatal("memtable unusable while references remain")
	}
	mt.Unref()
}
