package chunkmac

import "testing"

func TestCalcProgressContiguous(t *testing.T) {
	m := New()
	var mac [32]byte
	m.Insert(0, mac, true, 100)
	m.Insert(100, mac, true, 50)
	m.Insert(200, mac, false, 30) // gap at 150-200 never recorded

	pos, completed, partial := m.CalcProgress(1000)
	if pos != 150 {
		t.Fatalf("pos = %d, want 150", pos)
	}
	if completed != 150 {
		t.Fatalf("completed = %d, want 150", completed)
	}
	if partial != 30 {
		t.Fatalf("partial = %d, want 30", partial)
	}
}

func TestCalcProgressIdempotent(t *testing.T) {
	m := New()
	var mac [32]byte
	m.Insert(0, mac, true, 64)
	m.Insert(64, mac, false, 10)

	pos1, c1, p1 := m.CalcProgress(1000)
	pos2, c2, p2 := m.CalcProgress(1000)
	if pos1 != pos2 || c1 != c2 || p1 != p2 {
		t.Fatalf("CalcProgress not idempotent: (%d,%d,%d) vs (%d,%d,%d)", pos1, c1, p1, pos2, c2, p2)
	}
}

func TestInsertFinishedWins(t *testing.T) {
	m := New()
	var mac1, mac2 [32]byte
	mac2[0] = 0xFF
	m.Insert(0, mac1, true, 64)
	m.Insert(0, mac2, false, 10)
	e, ok := m.Get(0)
	if !ok || !e.Finished || e.MAC != mac1 {
		t.Fatalf("finished entry was overwritten by partial insert: %+v", e)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := New()
	var mac1, mac2 [32]byte
	mac1[0] = 1
	mac2[0] = 2
	m.Insert(0, mac1, true, 65536)
	m.Insert(65536, mac2, false, 1234)

	buf := m.Serialize()
	got, n, err := Unserialize(buf)
	if err != nil {
		t.Fatalf("unserialize: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d bytes, want %d", n, len(buf))
	}
	if got.Len() != m.Len() {
		t.Fatalf("len mismatch: %d vs %d", got.Len(), m.Len())
	}
	e0, _ := got.Get(0)
	if e0.MAC != mac1 || !e0.Finished || e0.Bytes != 65536 {
		t.Fatalf("entry 0 mismatch: %+v", e0)
	}
	e1, _ := got.Get(65536)
	if e1.MAC != mac2 || e1.Finished || e1.Bytes != 1234 {
		t.Fatalf("entry 65536 mismatch: %+v", e1)
	}
}

func TestCopyEntriesToUntilRaidlineBeforePos(t *testing.T) {
	m := New()
	var mac [32]byte
	line := int64(6 * 16) // RAIDPARTS * RAIDSECTOR
	m.Insert(0, mac, true, line)
	m.Insert(line, mac, true, 10) // ends mid-stripe, past the aligned boundary at line

	dst := New()
	newPos := m.CopyEntriesToUntilRaidlineBeforePos(line+10, dst)
	if newPos != line {
		t.Fatalf("truncated pos = %d, want %d", newPos, line)
	}
	if dst.Len() != 1 {
		t.Fatalf("expected only the fully-aligned entry to carry over, got %d", dst.Len())
	}
	if _, ok := dst.Get(line); ok {
		t.Fatalf("non-aligned entry should not have been copied")
	}
}
