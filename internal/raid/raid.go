// Package raid implements the RaidBufferManager (spec C3): it divides a
// logical byte range into up to six parallel part-streams — five data,
// one parity — reassembles stripes as bytes arrive out of order across
// connections, and degenerates to a single passthrough buffer when the
// transfer isn't RAID-laid-out.
//
// Stripe math is grounded on github.com/klauspost/reedsolomon, the same
// erasure-coding library the teacher uses for its own block splitting in
// service.SplitFile/ReconstructAndSaveFileLocal — there it shards whole
// ciphertext blocks; here it shards 16-byte sectors within one stripe so
// that any single missing connection's sector can be reconstructed from
// the other five without waiting for the rest of the stripe's siblings.
package raid

import (
	"fmt"

	"github.com/FraMan97/kairos/internal/config"
	"github.com/klauspost/reedsolomon"
)

const (
	dataParts   = 5
	parityParts = 1
	sector      = 16 // must track config.RAIDSECTOR
)

// part holds the per-connection state of one RAID (or the sole
// non-RAID) part-stream.
type part struct {
	pos     int64  // next absolute byte this part has been asked to fetch, in its own address space
	pending []byte // bytes submitted but not yet consumed into a complete stripe
	unused  bool   // this part is the spare: never fetched, reconstructed on demand
	done    bool
}

// Manager is the RaidBufferManager.
type Manager struct {
	raid       bool
	urls       []string
	fileSize   int64
	start, end int64 // requested logical window, in decoded (ciphertext) byte space
	maxReqSize int64

	parts []part

	// RAID assembly state.
	nextStripe int64 // index of the next stripe not yet assembled
	enc        reedsolomon.Encoder

	outbuf    []byte // contiguous decoded bytes ready for the consumer
	outOffset int64  // absolute offset of outbuf[0] within the logical stream
	delivered bool   // true while a piece is out on loan via getAsyncOutputBufferPointer
}

// New returns an unconfigured manager; call SetIsRaid before use.
func New() *Manager {
	return &Manager{}
}

// IsRaid reports whether the manager is configured for RAID striping.
func (m *Manager) IsRaid() bool { return m.raid }

// SetIsRaid configures the manager. urls has length 1 (non-RAID) or
// config.RAIDPARTS (RAID). start/endExclusive bound the logical window
// to fetch; fileSize is the full decoded stream length; maxReqSize caps
// the size of one fetch range. isResume does not change what SetIsRaid
// does: it always starts fresh parts at the stripe boundary at or before
// start.
func (m *Manager) SetIsRaid(urls []string, start, endExclusive, fileSize, maxReqSize int64, isResume bool) error {
	if len(urls) != 1 && len(urls) != config.RAIDPARTS {
		return fmt.Errorf("raid: tempurls must be length 1 or %d, got %d", config.RAIDPARTS, len(urls))
	}
	m.raid = len(urls) == config.RAIDPARTS
	m.urls = append([]string(nil), urls...)
	m.fileSize = fileSize
	m.start = start
	m.end = endExclusive
	m.maxReqSize = maxReqSize
	m.outbuf = nil
	m.outOffset = start
	m.delivered = false

	if !m.raid {
		m.parts = []part{{pos: start}}
		m.enc = nil
		return nil
	}

	enc, err := reedsolomon.New(dataParts, parityParts)
	if err != nil {
		return fmt.Errorf("raid: reedsolomon.New: %w", err)
	}
	m.enc = enc
	m.parts = make([]part, config.RAIDPARTS)
	stripeStart := alignStripeDown(start)
	for i := range m.parts {
		m.parts[i] = part{pos: stripeStart / int64(dataParts*sector) * sector}
		if ps := m.partSize(i); m.parts[i].pos >= ps {
			m.parts[i].done = true
		}
	}
	m.nextStripe = start / int64(dataParts*sector)
	return nil
}

// TempUrlVector returns the configured temporary URLs.
func (m *Manager) TempUrlVector() []string { return m.urls }

// UpdateUrlsAndResetPos replaces the URL set (on retry/reacquisition)
// without disturbing any already-fetched part positions.
func (m *Manager) UpdateUrlsAndResetPos(urls []string) error {
	if len(urls) != len(m.urls) {
		return fmt.Errorf("raid: url count changed from %d to %d", len(m.urls), len(urls))
	}
	m.urls = append([]string(nil), urls...)
	return nil
}

// TransferPos reports part i's current fetch position.
func (m *Manager) TransferPos(i int) int64 { return m.parts[i].pos }

// TransferSize reports part i's total size in its own address space.
func (m *Manager) TransferSize(i int) int64 {
	if !m.raid {
		return m.fileSize
	}
	return m.partSize(i)
}

// ResetPart clears connection i's buffered state, leaving its position
// untouched — used when a connection is replaced and must restart its
// in-flight request but not lose resumed progress.
func (m *Manager) ResetPart(i int) {
	m.parts[i].pending = nil
	m.parts[i].done = m.parts[i].pos >= m.TransferSize(i)
}

// SetUnusedRaidConnection designates part i as the spare: it will no
// longer be fetched and its bytes are reconstructed from the other
// five via parity.
func (m *Manager) SetUnusedRaidConnection(i int) {
	for idx := range m.parts {
		m.parts[idx].unused = false
	}
	m.parts[i].unused = true
	m.parts[i].pending = nil
}

// GetUnusedRaidConnection returns the current spare index, or -1 if
// none is designated (non-RAID, or RAID with all six active — which
// should not persist past configuration).
func (m *Manager) GetUnusedRaidConnection() int {
	for idx := range m.parts {
		if m.parts[idx].unused {
			return idx
		}
	}
	return -1
}

// NextNPosForConnection reports the next absolute byte range
// connection i should fetch. lo>=hi means the part has nothing left to
// fetch right now (either done, or designated spare). pauseForRaid
// means the part has raced too far ahead of stripe assembly and should
// wait rather than issue another request. newBufferSupplied reports
// that calling this advanced stripe assembly and produced new output.
func (m *Manager) NextNPosForConnection(i int) (lo, hi int64, newBufferSupplied, pauseForRaid bool) {
	before := len(m.outbuf)
	m.assembleReadyStripes()
	newBufferSupplied = len(m.outbuf) > before

	p := &m.parts[i]
	if p.unused || p.done {
		return p.pos, p.pos, newBufferSupplied, false
	}

	size := m.TransferSize(i)
	if p.pos >= size {
		p.done = true
		return p.pos, p.pos, newBufferSupplied, false
	}

	// Flow control: don't let one part race more than a couple of
	// request-sizes ahead of the stripe the assembler is waiting on.
	aheadLimit := m.nextStripe*sector + 2*m.maxReqSize
	if m.raid && p.pos >= aheadLimit {
		return p.pos, p.pos, newBufferSupplied, true
	}

	hi = p.pos + m.maxReqSize
	if hi > size {
		hi = size
	}
	return p.pos, hi, newBufferSupplied, false
}

// SubmitBuffer delivers bytes fetched by connection i. For RAID parts
// other than the final tail, len(piece) must be a multiple of the
// sector size; final is true only when the caller's HTTP request
// reached REQ_SUCCESS and this is the last piece for that part.
func (m *Manager) SubmitBuffer(i int, piece []byte, final bool) error {
	p := &m.parts[i]
	if m.raid && !final && len(piece)%sector != 0 {
		return fmt.Errorf("raid: part %d submitted %d bytes, not a multiple of sector %d", i, len(piece), sector)
	}
	p.pending = append(p.pending, piece...)
	p.pos += int64(len(piece))
	if final || p.pos >= m.TransferSize(i) {
		p.done = true
	}
	m.assembleReadyStripes()
	return nil
}

// GetAsyncOutputBufferPointer returns the next contiguous decoded
// output piece, or ok=false if none is ready yet. Index is always 0:
// the manager exposes one logical output stream regardless of part
// count, matching the single-consumer contract in spec C3.
func (m *Manager) GetAsyncOutputBufferPointer(_ int) (piece []byte, ok bool) {
	if m.delivered || len(m.outbuf) == 0 {
		return nil, false
	}
	m.delivered = true
	return m.outbuf, true
}

// BufferWriteCompleted signals the caller consumed the piece last
// returned by GetAsyncOutputBufferPointer.
func (m *Manager) BufferWriteCompleted(_ int, ok bool) {
	if !m.delivered {
		return
	}
	if ok {
		m.outOffset += int64(len(m.outbuf))
	}
	m.outbuf = nil
	m.delivered = false
}

// assembleReadyStripes decodes every stripe for which enough part data
// has arrived, appending the decoded bytes to outbuf in order.
func (m *Manager) assembleReadyStripes() {
	if m.delivered {
		return // caller hasn't drained the last piece; preserve ordering
	}
	if !m.raid {
		p := &m.parts[0]
		if len(p.pending) > 0 {
			m.outbuf = append(m.outbuf, p.pending...)
			p.pending = nil
		}
		return
	}
	for {
		if m.nextStripe*int64(dataParts*sector) >= m.fileSize {
			return // every stripe of the file has been assembled
		}
		sectors, lens, ready := m.collectStripe(m.nextStripe)
		if !ready {
			return
		}
		decoded, err := m.decodeStripe(sectors, lens)
		if err != nil {
			// Cannot reconstruct this stripe yet (e.g. two parts
			// missing); stop assembling until more data arrives.
			return
		}
		m.outbuf = append(m.outbuf, decoded...)
		m.nextStripe++
	}
}

// collectStripe reports whether every non-spare part, data and parity
// alike, has at least one full sector's worth of pending bytes for
// stripe s, consuming them from each part's pending
// buffer. lens[p] is the true (pre-padding) length of part p's sector
// in this stripe, needed to trim a short final stripe correctly.
func (m *Manager) collectStripe(s int64) (sectors [dataParts + parityParts][]byte, lens [dataParts + parityParts]int, ready bool) {
	spare := m.GetUnusedRaidConnection()
	for p := 0; p < dataParts+parityParts; p++ {
		want := m.sectorLen(p, s)
		if want == 0 {
			lens[p] = 0
			continue
		}
		lens[p] = want
		if p == spare {
			continue // reconstructed below, not read from pending
		}
		if len(m.parts[p].pending) < want {
			return sectors, lens, false
		}
	}
	// Second pass: all required non-spare sectors are available; take them.
	for p := 0; p < dataParts+parityParts; p++ {
		if lens[p] == 0 || p == spare {
			continue
		}
		sectors[p] = pad(m.parts[p].pending[:lens[p]])
		m.parts[p].pending = m.parts[p].pending[lens[p]:]
	}
	return sectors, lens, true
}

// decodeStripe reconstructs the spare part (if any) and returns the
// concatenated, correctly-trimmed data sectors for this stripe.
func (m *Manager) decodeStripe(sectors [dataParts + parityParts][]byte, lens [dataParts + parityParts]int) ([]byte, error) {
	spare := m.GetUnusedRaidConnection()
	if spare >= 0 && lens[spare] > 0 {
		shards := make([][]byte, dataParts+parityParts)
		for i := range shards {
			if i == spare {
				continue
			}
			shards[i] = sectors[i]
		}
		if err := m.enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("raid: reconstruct stripe: %w", err)
		}
		sectors[spare] = shards[spare]
	}
	out := make([]byte, 0, dataParts*sector)
	for p := 0; p < dataParts; p++ {
		if lens[p] == 0 {
			continue
		}
		out = append(out, sectors[p][:lens[p]]...)
	}
	return out, nil
}

// sectorLen reports how many real (pre-padding) bytes part p
// contributes to stripe s: sector for all but the final, possibly
// short, stripe; 0 if part p doesn't participate at all in a short
// final stripe.
func (m *Manager) sectorLen(p int, s int64) int {
	if p == dataParts { // parity: present whenever any data part is present
		for q := 0; q < dataParts; q++ {
			if m.sectorLen(q, s) > 0 {
				return sector
			}
		}
		return 0
	}
	stripeDataStart := s * int64(dataParts*sector)
	partByteStart := stripeDataStart + int64(p*sector)
	if partByteStart >= m.fileSize {
		return 0
	}
	remaining := m.fileSize - partByteStart
	if remaining >= sector {
		return sector
	}
	return int(remaining)
}

// partSize reports the total size, in part i's own address space, of
// a RAID part across the whole file.
func (m *Manager) partSize(i int) int64 {
	full := m.fileSize / int64(dataParts*sector)
	rem := m.fileSize % int64(dataParts*sector)
	if i == dataParts {
		if rem > 0 {
			return full*sector + sector
		}
		return full * sector
	}
	size := full * sector
	own := rem - int64(i*sector)
	if own < 0 {
		own = 0
	}
	if own > sector {
		own = sector
	}
	return size + own
}

func alignStripeDown(pos int64) int64 {
	line := int64(dataParts * sector)
	return (pos / line) * line
}

// pad right-pads a short tail sector to the full sector size so it can
// be handed to reedsolomon, which requires equal-length shards.
func pad(b []byte) []byte {
	if len(b) >= sector {
		return b[:sector]
	}
	out := make([]byte, sector)
	copy(out, b)
	return out
}
