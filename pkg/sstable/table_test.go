package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/granitedb/granite/pkg/cache"
	"github.com/granitedb/granite/pkg/common/status"
	"github.com/granitedb/granite/pkg/config"
	"github.com/granitedb/granite/pkg/keys"
	"github.com/granitedb/granite/pkg/sstable/filter"
	"github.com/granitedb/granite/pkg/sstable/footer"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.BlockSize = 1024 // small blocks force multi-block tables
	return cfg
}

func buildUserKeyTable(t *testing.T, cfg *config.Config, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "000001.gst")
	w, err := NewWriter(path, cfg)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key%06d", i))
		value := []byte(fmt.Sprintf("value%06d", i))
		if err := w.Add(key, value); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	return path
}

func TestTableRoundTrip(t *testing.T) {
	for _, compression := range []config.CompressionType{config.NoCompression, config.SnappyCompression} {
		cfg := testConfig()
		cfg.Compression = compression
		const n = 3000
		path := buildUserKeyTable(t, cfg, n)

		r, err := NewReader(path, cfg, nil)
		if err != nil {
			t.Fatalf("compression %d: open: %v", compression, err)
		}

		it := r.NewIterator(&ReadOptions{VerifyChecksums: true})
		i := 0
		for it.SeekToFirst(); it.Valid(); it.Next() {
			wantKey := fmt.Sprintf("key%06d", i)
			wantVal := fmt.Sprintf("value%06d", i)
			if string(it.Key()) != wantKey || string(it.Value()) != wantVal {
				t.Fatalf("compression %d entry %d: got (%q,%q)", compression, i, it.Key(), it.Value())
			}
			i++
		}
		if err := it.Close(); err != nil {
			t.Fatalf("compression %d: iterator close: %v", compression, err)
		}
		if i != n {
			t.Fatalf("compression %d: iterated %d entries, want %d", compression, i, n)
		}
		r.Close()
	}
}

func TestTableGet(t *testing.T) {
	cfg := testConfig()
	const n = 2000
	path := buildUserKeyTable(t, cfg, n)
	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ro := &ReadOptions{VerifyChecksums: true}
	for _, i := range []int{0, 1, 999, 1000, 1998, 1999} {
		key := []byte(fmt.Sprintf("key%06d", i))
		var gotKey, gotVal []byte
		err := r.Get(ro, key, func(k, v []byte) {
			gotKey = append([]byte(nil), k...)
			gotVal = append([]byte(nil), v...)
		})
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if !bytes.Equal(gotKey, key) || string(gotVal) != fmt.Sprintf("value%06d", i) {
			t.Errorf("get %d: got (%q,%q)", i, gotKey, gotVal)
		}
	}

	// A key past the end never reaches the callback.
	called := false
	if err := r.Get(ro, []byte("zzz"), func(k, v []byte) { called = true }); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("callback ran for a key past the table")
	}

	// An absent key in range lands on its successor; the caller's
	// callback sees a different key and treats it as a miss.
	var landed []byte
	if err := r.Get(ro, []byte("key000000x"), func(k, v []byte) { landed = append([]byte(nil), k...) }); err != nil {
		t.Fatal(err)
	}
	if string(landed) != "key000001" {
		t.Errorf("absent key landed on %q", landed)
	}
}

func TestTableSeek(t *testing.T) {
	cfg := testConfig()
	path := buildUserKeyTable(t, cfg, 1000)
	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	it := r.NewIterator(&ReadOptions{})
	defer it.Close()

	// Exact, between, before-first, past-last.
	if !it.Seek([]byte("key000500")) || string(it.Key()) != "key000500" {
		t.Errorf("seek exact: got %q", it.Key())
	}
	if !it.Seek([]byte("key000500a")) || string(it.Key()) != "key000501" {
		t.Errorf("seek between: got %q", it.Key())
	}
	if !it.Seek([]byte("a")) || string(it.Key()) != "key000000" {
		t.Errorf("seek before first: got %q", it.Key())
	}
	if it.Seek([]byte("zzz")) {
		t.Error("seek past last should be invalid")
	}
}

func TestTableIteratorReverse(t *testing.T) {
	cfg := testConfig()
	const n = 700
	path := buildUserKeyTable(t, cfg, n)
	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	it := r.NewIterator(&ReadOptions{})
	defer it.Close()

	count := 0
	for it.SeekToLast(); it.Valid(); it.Prev() {
		want := fmt.Sprintf("key%06d", n-1-count)
		if string(it.Key()) != want {
			t.Fatalf("reverse position %d: got %q, want %q", count, it.Key(), want)
		}
		count++
	}
	if count != n {
		t.Errorf("reverse iterated %d entries, want %d", count, n)
	}
}

// TestTableInternalKeysVisibility exercises the full engine layering:
// internal keys in the table, lookups at different snapshot sequences.
func TestTableInternalKeysVisibility(t *testing.T) {
	cfg := testConfig().InternalTableConfig()
	path := filepath.Join(t.TempDir(), "000007.gst")
	w, err := NewWriter(path, cfg)
	if err != nil {
		t.Fatal(err)
	}

	ik := func(u string, seq uint64, typ keys.ValueType) []byte {
		return keys.AppendInternalKey(nil, []byte(u), seq, typ)
	}
	// Internal order: ascending user key, descending sequence.
	w.Add(ik("k", 4, keys.TypeDeletion), nil)
	w.Add(ik("k", 3, keys.TypeValue), []byte("v3"))
	w.Add(ik("k", 1, keys.TypeValue), []byte("v1"))
	w.Add(ik("other", 2, keys.TypeValue), []byte("x"))
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	// lookup returns the newest version visible at snapshot seq.
	lookup := func(seq uint64) (string, keys.ValueType, bool) {
		lk := keys.NewLookupKey([]byte("k"), seq)
		var val string
		var typ keys.ValueType
		found := false
		err := r.Get(&ReadOptions{}, lk.InternalKey(), func(k, v []byte) {
			ukey, _, tp, ok := keys.ParseInternalKey(k)
			if ok && bytes.Equal(ukey, lk.UserKey()) {
				found = true
				typ = tp
				val = string(v)
			}
		})
		if err != nil {
			t.Fatal(err)
		}
		return val, typ, found
	}

	if _, typ, found := lookup(5); !found || typ != keys.TypeDeletion {
		t.Errorf("seq 5: expected tombstone, found=%v typ=%d", found, typ)
	}
	if val, typ, found := lookup(3); !found || typ != keys.TypeValue || val != "v3" {
		t.Errorf("seq 3: got %q typ=%d found=%v", val, typ, found)
	}
	if val, _, found := lookup(2); !found || val != "v1" {
		t.Errorf("seq 2: got %q found=%v", val, found)
	}
}

func TestTableWithBlockCache(t *testing.T) {
	cfg := testConfig()
	const n = 2000
	path := buildUserKeyTable(t, cfg, n)

	blockCache := cache.New(cfg.BlockCacheCapacity)
	r, err := NewReader(path, cfg, blockCache)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ro := &ReadOptions{FillCache: true}
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i += 37 {
			key := []byte(fmt.Sprintf("key%06d", i))
			found := false
			if err := r.Get(ro, key, func(k, v []byte) { found = bytes.Equal(k, key) }); err != nil {
				t.Fatalf("pass %d get %d: %v", pass, i, err)
			}
			if !found {
				t.Fatalf("pass %d: key %d missing", pass, i)
			}
		}
	}
	if blockCache.TotalCharge() == 0 {
		t.Error("expected blocks to be cached after reads")
	}

	// Scans with FillCache off must not grow the cache.
	before := blockCache.TotalCharge()
	it := r.NewIterator(&ReadOptions{FillCache: false})
	for it.SeekToFirst(); it.Valid(); it.Next() {
	}
	it.Close()
	if blockCache.TotalCharge() != before {
		t.Errorf("uncached scan changed charge: %d -> %d", before, blockCache.TotalCharge())
	}
}

func TestTableSharedCacheDistinctIDs(t *testing.T) {
	cfg := testConfig()
	pathA := buildUserKeyTable(t, cfg, 100)

	// A second table with different values for the same keys.
	pathB := filepath.Join(t.TempDir(), "b.gst")
	w, err := NewWriter(pathB, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		w.Add([]byte(fmt.Sprintf("key%06d", i)), []byte("OTHER"))
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	shared := cache.New(1 << 20)
	ra, err := NewReader(pathA, cfg, shared)
	if err != nil {
		t.Fatal(err)
	}
	defer ra.Close()
	rb, err := NewReader(pathB, cfg, shared)
	if err != nil {
		t.Fatal(err)
	}
	defer rb.Close()

	ro := &ReadOptions{FillCache: true}
	key := []byte("key000050")
	var va, vb string
	ra.Get(ro, key, func(k, v []byte) { va = string(v) })
	rb.Get(ro, key, func(k, v []byte) { vb = string(v) })
	if va != "value000050" || vb != "OTHER" {
		t.Errorf("cache collision between tables: %q / %q", va, vb)
	}
}

func TestTableFilterPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.FilterPolicy = filter.NewBloomPolicy(10)
	const n = 2000
	path := buildUserKeyTable(t, cfg, n)

	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.filters == nil {
		t.Fatal("filter block not loaded")
	}

	// Every stored key must pass its filter.
	ro := &ReadOptions{}
	for i := 0; i < n; i += 19 {
		key := []byte(fmt.Sprintf("key%06d", i))
		found := false
		if err := r.Get(ro, key, func(k, v []byte) { found = bytes.Equal(k, key) }); err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatalf("filter dropped stored key %d", i)
		}
	}

	// A reader configured without the policy still works, just without
	// filtering.
	plain := testConfig()
	r2, err := NewReader(path, plain, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	if r2.filters != nil {
		t.Error("filterless reader should not load filters")
	}
	found := false
	r2.Get(ro, []byte("key000123"), func(k, v []byte) { found = true })
	if !found {
		t.Error("filterless reader lost a key")
	}
}

func TestTableApproximateOffsets(t *testing.T) {
	cfg := testConfig()
	cfg.Compression = config.NoCompression
	const n = 4000
	path := buildUserKeyTable(t, cfg, n)
	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	// Monotone non-decreasing in the key.
	var prev uint64
	for i := 0; i < n; i += 100 {
		off := r.ApproximateOffsetOf([]byte(fmt.Sprintf("key%06d", i)))
		if off < prev {
			t.Fatalf("offset decreased at key %d: %d < %d", i, off, prev)
		}
		prev = off
	}

	if got := r.ApproximateOffsetOf([]byte("key000000")); got != 0 {
		t.Errorf("first key offset: got %d, want 0", got)
	}
	stat, _ := os.Stat(path)
	if got := r.ApproximateOffsetOf([]byte("zzz")); got == 0 || got > uint64(stat.Size()) {
		t.Errorf("past-the-end offset %d outside file of %d bytes", got, stat.Size())
	}
}

func TestTableRejectsOutOfOrderAdds(t *testing.T) {
	cfg := testConfig()
	w, err := NewWriter(filepath.Join(t.TempDir(), "x.gst"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Abort()

	if err := w.Add([]byte("b"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := w.Add([]byte("a"), []byte("2")); !status.IsInvalidArgument(err) {
		t.Errorf("out of order add: expected InvalidArgument, got %v", err)
	}
	if err := w.Add([]byte("b"), []byte("dup")); !status.IsInvalidArgument(err) {
		t.Errorf("duplicate add: expected InvalidArgument, got %v", err)
	}
}

func TestTableCorruptionDetected(t *testing.T) {
	cfg := testConfig()
	cfg.Compression = config.NoCompression
	path := buildUserKeyTable(t, cfg, 500)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Bad magic: refuse to open.
	bad := append([]byte(nil), raw...)
	bad[len(bad)-1] ^= 0xff
	if err := os.WriteFile(path, bad, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(path, cfg, nil); !status.IsCorruption(err) {
		t.Errorf("bad magic: expected Corruption, got %v", err)
	}

	// Flip a byte in the first data block: reads with checksum
	// verification fail.
	bad = append([]byte(nil), raw...)
	bad[10] ^= 0x01
	if err := os.WriteFile(path, bad, 0644); err != nil {
		t.Fatal(err)
	}
	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatalf("open with corrupt data block: %v", err)
	}
	defer r.Close()
	err = r.Get(&ReadOptions{VerifyChecksums: true}, []byte("key000000"), func(k, v []byte) {})
	if !status.IsCorruption(err) {
		t.Errorf("corrupt block: expected Corruption, got %v", err)
	}

	// Unknown compression type must be NotSupported, not Corruption.
	bad = append([]byte(nil), raw...)
	// First block's trailer type byte sits right after the block; find
	// it by reading the index through a healthy reader.
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}
	healthy, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	iit := healthy.indexBlock.NewIterator(cfg.Comparator)
	iit.SeekToFirst()
	if !iit.Valid() {
		t.Fatal("table has no index entries")
	}
	handle, _, err := footer.DecodeBlockHandle(iit.Value())
	if err != nil {
		t.Fatal(err)
	}
	iit.Close()
	healthy.Close()

	bad[handle.Offset+handle.Size] = 0x7f // compression type byte of block 0
	if err := os.WriteFile(path, bad, 0644); err != nil {
		t.Fatal(err)
	}
	r2, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	err = r2.Get(&ReadOptions{}, []byte("key000000"), func(k, v []byte) {})
	if !status.IsNotSupported(err) {
		t.Errorf("unknown compression: expected NotSupported, got %v", err)
	}
}

func TestWriterAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.gst")
	w, err := NewWriter(path, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	w.Add([]byte("a"), []byte("1"))
	if err := w.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("abort left %d files behind", len(entries))
	}
}

func TestEmptyTable(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "empty.gst")
	w, err := NewWriter(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("finish empty table: %v", err)
	}

	r, err := NewReader(path, cfg, nil)
	if err != nil {
		t.Fatalf("open empty table: %v", err)
	}
	defer r.Close()

	it := r.NewIterator(&ReadOptions{})
	defer it.Close()
	it.SeekToFirst()
	if it.Valid() {
		t.Error("empty table iterator should be invalid")
	}

	called := false
	r.Get(&ReadOptions{}, []byte("x"), func(k, v []byte) { called = true })
	if called {
		t.Error("empty table get reached the callback")
	}
}
