package transfer

import "testing"

func TestAddTransferAssignsIncreasingPriority(t *testing.T) {
	l := NewTransferList(4)
	a := New(GET, "/a", 10)
	b := New(GET, "/b", 10)
	l.AddTransfer(a, false)
	l.AddTransfer(b, false)
	if !(a.Priority < b.Priority) {
		t.Fatalf("expected a.Priority(%d) < b.Priority(%d)", a.Priority, b.Priority)
	}
}

func TestAddTransferStartFirstGoesBeforeExisting(t *testing.T) {
	l := NewTransferList(4)
	a := New(GET, "/a", 10)
	b := New(GET, "/b", 10)
	l.AddTransfer(a, false)
	l.AddTransfer(b, true)
	if !(b.Priority < a.Priority) {
		t.Fatalf("expected b (start-first) priority(%d) < a priority(%d)", b.Priority, a.Priority)
	}
}

// TestMoveToPositionMidpoint exercises spec S1: moving a transfer
// between two neighbours assigns it the midpoint priority, and the
// resulting sequence stays strictly increasing.
func TestMoveToPositionMidpoint(t *testing.T) {
	l := NewTransferList(4)
	a := New(GET, "/a", 10)
	b := New(GET, "/b", 10)
	c := New(GET, "/c", 10)
	l.AddTransfer(a, false)
	l.AddTransfer(b, false)
	l.AddTransfer(c, false)

	l.MoveToPosition(b, 2) // keeps b between a and c and recomputes its midpoint
	if b.Priority != a.Priority+(c.Priority-a.Priority)/2 {
		t.Fatalf("b.Priority = %d, want midpoint of %d and %d", b.Priority, a.Priority, c.Priority)
	}
	l.MoveBefore(c, a)

	prios := l.Priorities(GET)
	for i := 1; i < len(prios); i++ {
		if prios[i] <= prios[i-1] {
			t.Fatalf("priorities not strictly increasing: %v", prios)
		}
	}
}

func TestMoveToPositionCollisionRenumbers(t *testing.T) {
	l := NewTransferList(4)
	a := New(GET, "/a", 10)
	b := New(GET, "/b", 10)
	l.AddTransfer(a, false)
	l.AddTransfer(b, false)

	// Force adjacent priorities to force a midpoint collision on the
	// next move.
	a.Priority = 10
	b.Priority = 11
	c := New(GET, "/c", 10)
	c.Priority = 12
	l.entries[GET] = append(l.entries[GET], &listEntry{t: c})

	l.MoveToPosition(c, 1) // between a and b, which collide at the midpoint

	prios := l.Priorities(GET)
	for i := 1; i < len(prios); i++ {
		if prios[i] <= prios[i-1] {
			t.Fatalf("priorities not strictly increasing after renumber: %v", prios)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	l := NewTransferList(4)
	a := New(GET, "/a", 10)
	l.AddTransfer(a, false)

	l.Pause(a, true)
	if a.State != StatePaused {
		t.Fatalf("State = %v, want PAUSED", a.State)
	}
	l.Pause(a, false)
	if a.State != StateQueued {
		t.Fatalf("State = %v, want QUEUED", a.State)
	}
}

func TestRemoveTombstonesAndCompacts(t *testing.T) {
	l := NewTransferList(4)
	a := New(GET, "/a", 10)
	b := New(GET, "/b", 10)
	l.AddTransfer(a, false)
	l.AddTransfer(b, false)

	l.Remove(a)
	if l.Len(GET) != 1 {
		t.Fatalf("Len = %d, want 1", l.Len(GET))
	}
	l.compact(GET)
	if len(l.entries[GET]) != 1 {
		t.Fatalf("entries not compacted: %d", len(l.entries[GET]))
	}
}

func TestHandleDisplacementRequeuesOutOfWindow(t *testing.T) {
	l := NewTransferList(1)
	a := New(GET, "/a", 10)
	b := New(GET, "/b", 10)
	l.AddTransfer(a, false)
	l.AddTransfer(b, false)
	a.State = StateActive
	b.State = StateActive

	l.handleDisplacement(GET)

	if l.entries[GET][0].t.State != StateActive {
		t.Fatalf("first entry should stay ACTIVE, got %v", l.entries[GET][0].t.State)
	}
	if l.entries[GET][1].t.State != StateQueued {
		t.Fatalf("second entry should be displaced to QUEUED, got %v", l.entries[GET][1].t.State)
	}
}

func TestNextTransfersBucketsBySizeAndDirection(t *testing.T) {
	l := NewTransferList(8)
	small := New(GET, "/small", 10)
	large := New(PUT, "/large", 200000)
	small.AttachFile(NewFile(FilePlainDownload, "/small", 0))
	large.AttachFile(NewFile(FileSupportUpload, "/large", 0))
	l.AddTransfer(small, false)
	l.AddTransfer(large, false)

	always := func(Direction, SizeCategory) bool { return true }
	b := l.NextTransfers(always, nil)

	if len(b.GetSmall) != 1 || b.GetSmall[0] != small {
		t.Fatalf("GetSmall = %v, want [small]", b.GetSmall)
	}
	if len(b.PutLarge) != 1 || b.PutLarge[0] != large {
		t.Fatalf("PutLarge = %v, want [large]", b.PutLarge)
	}
}

func TestNextTransfersDropsTransferWithNoFiles(t *testing.T) {
	l := NewTransferList(8)
	t1 := New(GET, "/a", 10)
	l.AddTransfer(t1, false)

	always := func(Direction, SizeCategory) bool { return true }
	b := l.NextTransfers(always, nil)

	if len(b.GetSmall) != 0 {
		t.Fatalf("expected no bucketed transfers, got %v", b.GetSmall)
	}
	if l.Len(GET) != 0 {
		t.Fatalf("transfer with no files should have been removed from the list")
	}
}

func TestNextTransfersRespectsContinueFn(t *testing.T) {
	l := NewTransferList(8)
	a := New(GET, "/a", 10)
	b := New(GET, "/b", 10)
	a.AttachFile(NewFile(FilePlainDownload, "/a", 0))
	b.AttachFile(NewFile(FilePlainDownload, "/b", 0))
	l.AddTransfer(a, false)
	l.AddTransfer(b, false)

	seen := 0
	limitOne := func(Direction, SizeCategory) bool {
		seen++
		return seen <= 1
	}
	bk := l.NextTransfers(limitOne, nil)
	if len(bk.GetSmall) != 1 {
		t.Fatalf("GetSmall = %v, want exactly 1 admitted", bk.GetSmall)
	}
}
