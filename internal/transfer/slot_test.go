package transfer

import (
	"testing"

	"github.com/FraMan97/kairos/internal/httpx"
)

type fakeChunkIO struct {
	written map[int64][]byte
	source  []byte
}

func (f *fakeChunkIO) ReadChunk(localPath string, offset, size int64) ([]byte, error) {
	return f.source[offset : offset+size], nil
}

func (f *fakeChunkIO) WriteChunk(localPath string, offset int64, data []byte) error {
	if f.written == nil {
		f.written = make(map[int64][]byte)
	}
	f.written[offset] = append([]byte{}, data...)
	return nil
}

func TestClassicSlotRequiresTempURL(t *testing.T) {
	tr := New(GET, "/tmp/out", 10)
	client, err := httpx.NewClient()
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := NewClassicSlot(tr, client, &fakeChunkIO{}); err == nil {
		t.Fatalf("expected error with no temp urls")
	}
}

func TestClassicSlotBindsFirstTempURL(t *testing.T) {
	tr := New(PUT, "/tmp/in", 10)
	tr.TempURLs = []string{"https://example.test/up"}
	client, err := httpx.NewClient()
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	s, err := NewClassicSlot(tr, client, &fakeChunkIO{source: make([]byte, 10)})
	if err != nil {
		t.Fatalf("NewClassicSlot: %v", err)
	}
	if s.url != tr.TempURLs[0] {
		t.Fatalf("url = %q, want %q", s.url, tr.TempURLs[0])
	}
	if s.pos != tr.Pos {
		t.Fatalf("pos = %d, want %d", s.pos, tr.Pos)
	}
}

func TestClassifyHTTPError(t *testing.T) {
	cases := map[int]bool{509: true, 403: true, 404: true, 410: true, 0: true}
	for status := range cases {
		if err := classifyHTTPError(status); err == nil {
			t.Fatalf("status %d: expected non-nil error", status)
		}
	}
}
