package footer

import (
	"testing"

	"github.com/granitedb/granite/pkg/common/status"
)

func TestBlockHandleRoundTrip(t *testing.T) {
	cases := []BlockHandle{
		{Offset: 0, Size: 0},
		{Offset: 1, Size: 2},
		{Offset: 1 << 20, Size: 4096},
		{Offset: 1<<63 - 1, Size: 1<<63 - 1},
	}
	for _, h := range cases {
		enc := h.EncodeTo(nil)
		if len(enc) > MaxHandleEncodedLength {
			t.Fatalf("handle %+v encoded to %d bytes", h, len(enc))
		}
		got, rest, err := DecodeBlockHandle(enc)
		if err != nil {
			t.Fatalf("decode %+v: %v", h, err)
		}
		if got != h {
			t.Errorf("round trip: got %+v, want %+v", got, h)
		}
		if len(rest) != 0 {
			t.Errorf("decode left %d bytes", len(rest))
		}
	}
}

func TestFooterRoundTrip(t *testing.T) {
	f := &Footer{
		MetaIndexHandle: BlockHandle{Offset: 4100, Size: 20},
		IndexHandle:     BlockHandle{Offset: 4125, Size: 977},
	}
	enc := f.Encode()
	if len(enc) != EncodedLength {
		t.Fatalf("footer encodes to %d bytes, want %d", len(enc), EncodedLength)
	}

	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MetaIndexHandle != f.MetaIndexHandle || got.IndexHandle != f.IndexHandle {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestFooterDecodeTakesTail(t *testing.T) {
	f := &Footer{
		MetaIndexHandle: BlockHandle{Offset: 1, Size: 2},
		IndexHandle:     BlockHandle{Offset: 3, Size: 4},
	}
	// Decode must look only at the trailing EncodedLength bytes.
	padded := append(make([]byte, 1000), f.Encode()...)
	got, err := Decode(padded)
	if err != nil {
		t.Fatalf("decode padded: %v", err)
	}
	if got.IndexHandle != f.IndexHandle {
		t.Errorf("padded decode mismatch: %+v", got)
	}
}

func TestFooterBadMagic(t *testing.T) {
	f := &Footer{IndexHandle: BlockHandle{Offset: 1, Size: 1}}
	enc := f.Encode()
	enc[len(enc)-1] ^= 0xff
	_, err := Decode(enc)
	if !status.IsCorruption(err) {
		t.Errorf("expected Corruption for bad magic, got %v", err)
	}

	if _, err := Decode(make([]byte, 10)); !status.IsCorruption(err) {
		t.Errorf("expected Corruption for short footer, got %v", err)
	}
}
