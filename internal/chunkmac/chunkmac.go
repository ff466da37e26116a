// Package chunkmac implements the per-file-chunk MAC table (spec C1):
// an ordered mapping from chunk start offset to {mac, finished, bytes},
// with progress accounting and a serialised form for crash recovery.
package chunkmac

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/FraMan97/kairos/internal/config"
)

// Entry is one chunk's recorded integrity state.
type Entry struct {
	MAC      [32]byte
	Finished bool
	Bytes    int64
}

// Map is the ordered mapping from chunk start offset to Entry. Kept as
// a slice of offsets plus a map for O(log n) ordered access the same
// way boltdb's bucket.ForEach walks keys in sorted order — we sort the
// offset slice lazily rather than maintaining a balanced tree, since
// inserts are append-mostly during sequential transfer progress.
type Map struct {
	entries map[int64]Entry
	sorted  []int64
	dirty   bool
}

// New returns an empty chunk-mac map.
func New() *Map {
	return &Map{entries: make(map[int64]Entry)}
}

// Insert records the chunk state at offset, merging with any existing
// partial entry: a finished insert always wins; a partial insert at an
// offset that's already finished is a no-op (progress cannot regress).
func (m *Map) Insert(offset int64, mac [32]byte, finished bool, bytes int64) {
	if existing, ok := m.entries[offset]; ok {
		if existing.Finished && !finished {
			return
		}
		if !existing.Finished {
			m.sorted = nil
		}
	} else {
		m.dirty = true
	}
	m.entries[offset] = Entry{MAC: mac, Finished: finished, Bytes: bytes}
}

// Get returns the entry at offset, if any.
func (m *Map) Get(offset int64) (Entry, bool) {
	e, ok := m.entries[offset]
	return e, ok
}

// Len reports the number of recorded chunks.
func (m *Map) Len() int { return len(m.entries) }

func (m *Map) sortedOffsets() []int64 {
	if m.sorted != nil && !m.dirty {
		return m.sorted
	}
	offs := make([]int64, 0, len(m.entries))
	for off := range m.entries {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	m.sorted = offs
	m.dirty = false
	return offs
}

// CalcProgress computes pos (the largest contiguous end offset from 0),
// completed (sum of sizes of finished chunks), and sumPartial (sum of
// bytes of non-finished chunks). size is the transfer's total size,
// used to bound the final chunk. This is idempotent: repeated calls
// with unchanged state return identical results.
func (m *Map) CalcProgress(size int64) (pos, completed, sumPartial int64) {
	offs := m.sortedOffsets()
	contiguous := true
	var expectedEnd int64
	for _, off := range offs {
		e := m.entries[off]
		end := off + e.Bytes
		if end > size {
			end = size
		}
		if e.Finished {
			completed += end - off
		} else {
			sumPartial += e.Bytes
		}
		if contiguous && off == expectedEnd && e.Finished {
			pos = end
			expectedEnd = end
		} else {
			contiguous = false
		}
	}
	return pos, completed, sumPartial
}

// alignDown rounds pos down to the nearest multiple of RAIDLINE, i.e.
// RAIDPARTS*RAIDSECTOR — the smallest unit a RAID stripe can resume on.
func alignDown(pos int64) int64 {
	line := int64(config.RAIDPARTS * config.RAIDSECTOR)
	return (pos / line) * line
}

// CopyEntriesToUntilRaidlineBeforePos copies every entry whose end lies
// at or before align_down(pos, RAIDLINE) into dst, and returns the
// truncated position. Used when resuming a previously non-RAID
// transfer as RAID: any progress past the last full stripe boundary
// must be discarded since it can't be stripe-verified.
func (m *Map) CopyEntriesToUntilRaidlineBeforePos(pos int64, dst *Map) int64 {
	bound := alignDown(pos)
	for off, e := range m.entries {
		end := off + e.Bytes
		if end <= bound {
			dst.Insert(off, e.MAC, e.Finished, e.Bytes)
		}
	}
	return bound
}

// Serialize writes the map in the teacher's length-prefixed record
// style: a 4-byte LE count, then per-entry offset/mac/finished/bytes.
func (m *Map) Serialize() []byte {
	offs := m.sortedOffsets()
	buf := make([]byte, 4, 4+len(offs)*(8+32+1+8))
	binary.LittleEndian.PutUint32(buf, uint32(len(offs)))
	for _, off := range offs {
		e := m.entries[off]
		var rec [8 + 32 + 1 + 8]byte
		binary.LittleEndian.PutUint64(rec[0:8], uint64(off))
		copy(rec[8:40], e.MAC[:])
		if e.Finished {
			rec[40] = 1
		}
		binary.LittleEndian.PutUint64(rec[41:49], uint64(e.Bytes))
		buf = append(buf, rec[:]...)
	}
	return buf
}

// Unserialize parses the Serialize format, returning the map and the
// number of bytes consumed.
func Unserialize(b []byte) (*Map, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("chunkmac: short buffer")
	}
	count := int(binary.LittleEndian.Uint32(b))
	const recLen = 8 + 32 + 1 + 8
	need := 4 + count*recLen
	if len(b) < need {
		return nil, 0, fmt.Errorf("chunkmac: truncated record, need %d got %d", need, len(b))
	}
	m := New()
	off := 4
	for i := 0; i < count; i++ {
		rec := b[off : off+recLen]
		offset := int64(binary.LittleEndian.Uint64(rec[0:8]))
		var mac [32]byte
		copy(mac[:], rec[8:40])
		finished := rec[40] == 1
		bytes := int64(binary.LittleEndian.Uint64(rec[41:49]))
		m.Insert(offset, mac, finished, bytes)
		off += recLen
	}
	return m, off, nil
}
