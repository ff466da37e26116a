package transfer

import (
	"strings"
	"testing"
	"time"
)

func sampleTransfer() *Transfer {
	t := New(PUT, "/home/user/video.mp4", 1<<20)
	t.Priority = 0x123456789
	t.FileKey = [32]byte{1, 2, 3}
	t.CtrIV = 0xaabbccdd
	t.MetaMac = 0x1122334455
	t.TransferKey = [16]byte{9, 9, 9}
	t.ChunkMacs.Insert(0, [32]byte{7}, true, 65536)
	t.ChunkMacs.Insert(65536, [32]byte{8}, false, 4096)
	t.Fingerprint = Fingerprint{Valid: true, Size: 1 << 20, Mtime: 1700000000, CRC: [4]uint32{1, 2, 3, 4}}
	t.LastAccessTime = time.Unix(1700000042, 0)
	t.State = StatePaused
	return t
}

func TestSerializeRoundTripSingleURL(t *testing.T) {
	tr := sampleTransfer()
	tr.TempURLs = []string{"https://example.test/one"}

	b := tr.Serialize()
	got, n, err := Unserialize(b)
	if err != nil {
		t.Fatalf("Unserialize: %v", err)
	}
	if n != len(b) {
		t.Fatalf("consumed %d, want %d", n, len(b))
	}
	if got.LocalPath != tr.LocalPath {
		t.Fatalf("LocalPath = %q, want %q", got.LocalPath, tr.LocalPath)
	}
	if got.Priority != tr.Priority {
		t.Fatalf("Priority = %d, want %d", got.Priority, tr.Priority)
	}
	if got.FileKey != tr.FileKey || got.TransferKey != tr.TransferKey {
		t.Fatalf("key mismatch")
	}
	if got.State != StatePaused {
		t.Fatalf("State = %v, want PAUSED", got.State)
	}
	if !got.Fingerprint.Equal(tr.Fingerprint) {
		t.Fatalf("Fingerprint mismatch: got %+v want %+v", got.Fingerprint, tr.Fingerprint)
	}
	if len(got.TempURLs) != 1 || got.TempURLs[0] != tr.TempURLs[0] {
		t.Fatalf("TempURLs = %v, want %v", got.TempURLs, tr.TempURLs)
	}
	pos, completed, _ := got.ChunkMacs.CalcProgress(got.Size)
	wantPos, wantCompleted, _ := tr.ChunkMacs.CalcProgress(tr.Size)
	if pos != wantPos || completed != wantCompleted {
		t.Fatalf("progress mismatch: got (%d,%d) want (%d,%d)", pos, completed, wantPos, wantCompleted)
	}
}

// TestTwoElementURLsSplitButFailUnserialize exercises the
// single-separator case of the combined-URL splitter: two equal-length
// elements satisfy the substr-length quirk and split correctly, but a
// record holding two temp URLs is rejected by Unserialize, which only
// accepts 1 or 6.
func TestTwoElementURLsSplitButFailUnserialize(t *testing.T) {
	tr := sampleTransfer()
	tr.TempURLs = []string{"https://example.test/a", "https://example.test/b"}

	got := quirkSplitURLs(strings.Join(tr.TempURLs, "\x00"))
	if len(got) != 2 || got[0] != tr.TempURLs[0] || got[1] != tr.TempURLs[1] {
		t.Fatalf("quirkSplitURLs = %v, want %v", got, tr.TempURLs)
	}
	if _, _, err := Unserialize(tr.Serialize()); err == nil {
		t.Fatalf("Unserialize accepted a two-element tempurls list; only 1 or 6 are valid")
	}
}

// TestSerializeRoundTripSixRaidURLs exercises the realistic full-RAID
// shape: six same-service signed temp URLs of equal length. The
// original splitter's substr(pos, len) quirk reuses the first
// separator's position as a constant length on every call, which
// round-trips correctly for any element count as long as every element
// is the same length (spec §9, Open Question a).
func TestSerializeRoundTripSixRaidURLs(t *testing.T) {
	tr := sampleTransfer()
	tr.TempURLs = []string{
		"https://raid0.example.test/part",
		"https://raid1.example.test/part",
		"https://raid2.example.test/part",
		"https://raid3.example.test/part",
		"https://raid4.example.test/part",
		"https://raid5.example.test/part",
	}

	b := tr.Serialize()
	got, _, err := Unserialize(b)
	if err != nil {
		t.Fatalf("Unserialize: %v", err)
	}
	if len(got.TempURLs) != 6 {
		t.Fatalf("TempURLs = %v, want 6 elements", got.TempURLs)
	}
	for i, want := range tr.TempURLs {
		if got.TempURLs[i] != want {
			t.Fatalf("TempURLs[%d] = %q, want %q", i, got.TempURLs[i], want)
		}
	}
}

// TestQuirkSplitURLsMisparsesDifferingLengths documents the known limit
// of the original splitter: it only recovers element boundaries when
// every element shares the first element's length. Elements of
// differing length corrupt and truncate.
func TestQuirkSplitURLsMisparsesDifferingLengths(t *testing.T) {
	got := quirkSplitURLs("aa\x00b\x00ccc")
	want := []string{"aa", "b\x00", "cc"}
	if len(got) != len(want) {
		t.Fatalf("quirkSplitURLs = %v, want %v (documented mis-parse)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("quirkSplitURLs = %v, want %v (documented mis-parse)", got, want)
		}
	}
}

func TestSerializeRoundTripNoURLs(t *testing.T) {
	tr := sampleTransfer()
	tr.TempURLs = nil

	b := tr.Serialize()
	got, _, err := Unserialize(b)
	if err != nil {
		t.Fatalf("Unserialize: %v", err)
	}
	if len(got.TempURLs) != 0 {
		t.Fatalf("TempURLs = %v, want empty", got.TempURLs)
	}
}

func TestSerializeRoundTripWithUlTokenAndNodeHandle(t *testing.T) {
	tr := sampleTransfer()
	tr.TempURLs = []string{"https://example.test/one"}
	tr.HasUlToken = true
	copy(tr.UlToken[:], []byte("0123456789ABCDEFGHIJ0123456789ABCDEF"))
	tr.NodeHandle = "h:abc123"
	tr.DiscardedTempUrlsSize = 3

	b := tr.Serialize()
	got, _, err := Unserialize(b)
	if err != nil {
		t.Fatalf("Unserialize: %v", err)
	}
	if !got.HasUlToken || got.UlToken != tr.UlToken {
		t.Fatalf("ulToken mismatch")
	}
	if got.NodeHandle != tr.NodeHandle {
		t.Fatalf("NodeHandle = %q, want %q", got.NodeHandle, tr.NodeHandle)
	}
	if got.DiscardedTempUrlsSize != tr.DiscardedTempUrlsSize {
		t.Fatalf("DiscardedTempUrlsSize = %d, want %d", got.DiscardedTempUrlsSize, tr.DiscardedTempUrlsSize)
	}
}

// TestSerializeClampsActiveStateToNone matches spec §6: only NONE and
// PAUSED are valid on-disk states; anything else persists as NONE.
func TestSerializeClampsActiveStateToNone(t *testing.T) {
	tr := sampleTransfer()
	tr.TempURLs = []string{"https://example.test/one"}
	tr.State = StateActive

	b := tr.Serialize()
	got, _, err := Unserialize(b)
	if err != nil {
		t.Fatalf("Unserialize: %v", err)
	}
	if got.State != StateNone {
		t.Fatalf("State = %v, want NONE", got.State)
	}
}
