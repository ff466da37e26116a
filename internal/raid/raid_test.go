package raid

import "testing"

func urls(n int) []string {
	u := make([]string, n)
	for i := range u {
		u[i] = "https://example.invalid/part"
	}
	return u
}

func TestNonRaidPassthrough(t *testing.T) {
	m := New()
	if err := m.SetIsRaid(urls(1), 0, 100, 100, 64, false); err != nil {
		t.Fatalf("SetIsRaid: %v", err)
	}
	if m.IsRaid() {
		t.Fatalf("single url must not be treated as RAID")
	}
	data := []byte("hello world, this is plain passthrough data!!!")
	if err := m.SubmitBuffer(0, data, false); err != nil {
		t.Fatalf("SubmitBuffer: %v", err)
	}
	piece, ok := m.GetAsyncOutputBufferPointer(0)
	if !ok {
		t.Fatalf("expected output piece")
	}
	if string(piece) != string(data) {
		t.Fatalf("piece mismatch: got %q want %q", piece, data)
	}
	m.BufferWriteCompleted(0, true)
}

func TestRaidRejectsUnalignedNonFinalSubmit(t *testing.T) {
	m := New()
	if err := m.SetIsRaid(urls(6), 0, 800, 800, 256, false); err != nil {
		t.Fatalf("SetIsRaid: %v", err)
	}
	if !m.IsRaid() {
		t.Fatalf("6 urls must be treated as RAID")
	}
	if err := m.SubmitBuffer(0, make([]byte, 17), false); err == nil {
		t.Fatalf("expected rejection of non-sector-aligned non-final submit")
	}
	if err := m.SubmitBuffer(0, make([]byte, 17), true); err != nil {
		t.Fatalf("final short tail must be accepted: %v", err)
	}
}

func TestRaidReconstructsSpare(t *testing.T) {
	fileSize := int64(dataParts * sector) // exactly one full stripe
	m := New()
	if err := m.SetIsRaid(urls(6), 0, fileSize, fileSize, 256, false); err != nil {
		t.Fatalf("SetIsRaid: %v", err)
	}

	plain := make([]byte, fileSize)
	for i := range plain {
		plain[i] = byte(i)
	}
	sectors := make([][]byte, dataParts+1)
	for p := 0; p < dataParts; p++ {
		sectors[p] = plain[p*sector : (p+1)*sector]
	}
	enc := m.enc
	sectors[dataParts] = make([]byte, sector)
	all := append([][]byte{}, sectors...)
	if err := enc.Encode(all); err != nil {
		t.Fatalf("encode parity: %v", err)
	}

	spare := 2
	m.SetUnusedRaidConnection(spare)

	for p := 0; p < dataParts+1; p++ {
		if p == spare {
			continue
		}
		if err := m.SubmitBuffer(p, all[p], true); err != nil {
			t.Fatalf("submit part %d: %v", p, err)
		}
	}

	piece, ok := m.GetAsyncOutputBufferPointer(0)
	if !ok {
		t.Fatalf("expected reconstructed output")
	}
	if string(piece) != string(plain) {
		t.Fatalf("reconstructed output mismatch: got %x want %x", piece, plain)
	}
}

func TestGetUnusedRaidConnection(t *testing.T) {
	m := New()
	_ = m.SetIsRaid(urls(6), 0, 800, 800, 256, false)
	if got := m.GetUnusedRaidConnection(); got != -1 {
		t.Fatalf("expected no spare configured yet, got %d", got)
	}
	m.SetUnusedRaidConnection(4)
	if got := m.GetUnusedRaidConnection(); got != 4 {
		t.Fatalf("GetUnusedRaidConnection() = %d, want 4", got)
	}
}
