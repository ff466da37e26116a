package transfer

import (
	"testing"

	"github.com/FraMan97/kairos/internal/xferrors"
)

func TestFileVotesToDeferByKind(t *testing.T) {
	cases := []struct {
		kind FileKind
		want bool
	}{
		{FilePlainDownload, false},
		{FileSyncDownload, true},
		{FileSyncUpload, true},
		{FileSupportUpload, false},
	}
	for _, c := range cases {
		f := NewFile(c.kind, "/x", 0)
		if got := f.Failed(xferrors.EAgain); got != c.want {
			t.Errorf("kind %v: Failed() = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestFileSyncReportsBothSyncKinds(t *testing.T) {
	if !NewFile(FileSyncDownload, "/x", 0).Sync() {
		t.Fatalf("FileSyncDownload should be Sync")
	}
	if !NewFile(FileSyncUpload, "/x", 0).Sync() {
		t.Fatalf("FileSyncUpload should be Sync")
	}
	if NewFile(FilePlainDownload, "/x", 0).Sync() {
		t.Fatalf("FilePlainDownload should not be Sync")
	}
}

func TestFileCancelIsIndependentPerFile(t *testing.T) {
	a := NewFile(FilePlainDownload, "/a", 0)
	b := NewFile(FilePlainDownload, "/b", 0)
	a.Cancel()
	if !a.Cancelled() {
		t.Fatalf("a should be cancelled")
	}
	if b.Cancelled() {
		t.Fatalf("b should not be cancelled")
	}
}

func TestFileDetachClearsBackReference(t *testing.T) {
	tr := New(GET, "/x", 10)
	f := NewFile(FilePlainDownload, "/x", 0)
	tr.AttachFile(f)
	if f.Transfer != tr {
		t.Fatalf("AttachFile did not set back-reference")
	}
	f.detach()
	if f.Transfer != nil {
		t.Fatalf("detach did not clear back-reference")
	}
}

func TestGetSetLocalName(t *testing.T) {
	f := NewFile(FilePlainDownload, "/old", 0)
	f.SetLocalName("/new")
	if f.GetLocalName() != "/new" {
		t.Fatalf("GetLocalName() = %q, want /new", f.GetLocalName())
	}
}
