package transfer

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/FraMan97/kairos/internal/chunkmac"
)

const serializeVersion uint8 = 1

const (
	flagHasNodeHandle          = 1 << 0
	flagHasDiscardedTempUrls   = 1 << 1
	flagLocalPathIsStructured  = 1 << 2
)

// Serialize renders t in the byte-exact record format spec §6
// specifies, for crash-recovery persistence.
func (t *Transfer) Serialize() []byte {
	var buf []byte

	buf = append(buf, byte(t.Direction))

	pathBytes := t.encodedLocalPath()
	buf = appendU16(buf, uint16(len(pathBytes)))
	buf = append(buf, pathBytes...)

	buf = append(buf, t.FileKey[:]...)
	buf = appendU64(buf, t.CtrIV)
	buf = appendU64(buf, t.MetaMac)
	buf = append(buf, t.TransferKey[:]...)

	buf = append(buf, t.ChunkMacs.Serialize()...)

	buf = append(buf, serializeFingerprint(t.Fingerprint)...)
	if t.BadFingerprint != nil {
		buf = append(buf, serializeFingerprint(*t.BadFingerprint)...)
	} else {
		buf = append(buf, serializeFingerprint(Fingerprint{})...)
	}

	buf = appendU64(buf, uint64(t.LastAccessTime.Unix()))

	if t.HasUlToken {
		buf = append(buf, 2)
		buf = append(buf, t.UlToken[:]...)
	} else {
		buf = append(buf, 0)
	}

	combined := strings.Join(t.TempURLs, "\x00")
	buf = appendU16(buf, uint16(len(combined)))
	buf = append(buf, combined...)

	buf = append(buf, byte(persistedState(t.State)))
	buf = appendU64(buf, uint64(t.Priority))
	buf = append(buf, serializeVersion)

	var flags byte
	if t.NodeHandle != "" {
		flags |= flagHasNodeHandle
	}
	if t.DiscardedTempUrlsSize > 0 {
		flags |= flagHasDiscardedTempUrls
	}
	if t.LocalPathStructured {
		flags |= flagLocalPathIsStructured
	}
	buf = append(buf, flags)

	if flags&flagHasNodeHandle != 0 {
		buf = appendU16(buf, uint16(len(t.NodeHandle)))
		buf = append(buf, t.NodeHandle...)
	}
	if flags&flagHasDiscardedTempUrls != 0 {
		buf = append(buf, byte(t.DiscardedTempUrlsSize))
	}

	return buf
}

// persistedState clamps any in-memory state to the two states the
// record format allows: a transfer is only ever serialised while
// idle (NONE) or explicitly paused.
func persistedState(s State) State {
	if s == StatePaused {
		return StatePaused
	}
	return StateNone
}

func (t *Transfer) encodedLocalPath() []byte {
	if !t.LocalPathStructured {
		return []byte(t.LocalPath)
	}
	// Structured form: path components joined by NUL, same separator
	// the combined-URLs field uses — kept simple since the actual
	// platform path encoding is an external file-system concern.
	parts := strings.Split(t.LocalPath, "/")
	return []byte(strings.Join(parts, "\x00"))
}

func decodeLocalPath(b []byte, structured bool) string {
	if !structured {
		return string(b)
	}
	return strings.Join(strings.Split(string(b), "\x00"), "/")
}

func serializeFingerprint(f Fingerprint) []byte {
	if !f.Valid {
		return []byte{0}
	}
	buf := make([]byte, 1+8+8+16)
	buf[0] = 1
	binary.LittleEndian.PutUint64(buf[1:9], uint64(f.Size))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(f.Mtime))
	for i, c := range f.CRC {
		binary.LittleEndian.PutUint32(buf[17+i*4:21+i*4], c)
	}
	return buf
}

func readFingerprint(b []byte) (Fingerprint, int, error) {
	if len(b) < 1 {
		return Fingerprint{}, 0, fmt.Errorf("transfer: short fingerprint")
	}
	if b[0] == 0 {
		return Fingerprint{}, 1, nil
	}
	if len(b) < 1+8+8+16 {
		return Fingerprint{}, 0, fmt.Errorf("transfer: truncated fingerprint")
	}
	var f Fingerprint
	f.Valid = true
	f.Size = int64(binary.LittleEndian.Uint64(b[1:9]))
	f.Mtime = int64(binary.LittleEndian.Uint64(b[9:17]))
	for i := range f.CRC {
		f.CRC[i] = binary.LittleEndian.Uint32(b[17+i*4 : 21+i*4])
	}
	return f, 1 + 8 + 8 + 16, nil
}

// Unserialize parses the Serialize format, returning the Transfer and
// the byte count consumed.
//
// It deliberately reproduces the original record parser's combined-URL
// splitter exactly, including the documented quirk (spec §9, Open
// Question a): substr's length argument is computed once from the
// position of the first separator and reused unchanged on every
// iteration, rather than re-finding each next separator. This
// round-trips correctly whenever every element has the same length —
// true of same-service signed temp URLs, including the full 6-part
// RAID case — and only misparses a combined-URL string whose elements
// differ in length. This is long-standing on-disk behavior, not
// something safe to silently fix without also migrating every
// already-persisted RAID transfer record.
func Unserialize(b []byte) (*Transfer, int, error) {
	p := 0
	need := func(n int) error {
		if len(b)-p < n {
			return fmt.Errorf("transfer: truncated record at offset %d, need %d more", p, n)
		}
		return nil
	}

	if err := need(1); err != nil {
		return nil, 0, err
	}
	dir := Direction(b[p])
	if dir != GET && dir != PUT {
		return nil, 0, fmt.Errorf("transfer: invalid direction %d", dir)
	}
	p++

	if err := need(2); err != nil {
		return nil, 0, err
	}
	pathLen := int(binary.LittleEndian.Uint16(b[p : p+2]))
	p += 2
	if err := need(pathLen); err != nil {
		return nil, 0, err
	}
	pathBytes := b[p : p+pathLen]
	p += pathLen

	if err := need(32); err != nil {
		return nil, 0, err
	}
	var t Transfer
	t.Direction = dir
	copy(t.FileKey[:], b[p:p+32])
	p += 32

	if err := need(16); err != nil {
		return nil, 0, err
	}
	t.CtrIV = binary.LittleEndian.Uint64(b[p : p+8])
	t.MetaMac = binary.LittleEndian.Uint64(b[p+8 : p+16])
	p += 16

	if err := need(16); err != nil {
		return nil, 0, err
	}
	copy(t.TransferKey[:], b[p:p+16])
	p += 16

	cm, n, err := chunkmac.Unserialize(b[p:])
	if err != nil {
		return nil, 0, err
	}
	t.ChunkMacs = cm
	p += n

	fp, n, err := readFingerprint(b[p:])
	if err != nil {
		return nil, 0, err
	}
	t.Fingerprint = fp
	if fp.Valid {
		t.Size = fp.Size
	}
	p += n

	badfp, n, err := readFingerprint(b[p:])
	if err != nil {
		return nil, 0, err
	}
	if badfp.Valid {
		t.BadFingerprint = &badfp
	}
	p += n

	if err := need(8); err != nil {
		return nil, 0, err
	}
	t.LastAccessTime = time.Unix(int64(binary.LittleEndian.Uint64(b[p : p+8])), 0)
	p += 8

	if err := need(1); err != nil {
		return nil, 0, err
	}
	hasUlToken := b[p]
	p++
	if hasUlToken == 2 {
		if err := need(36); err != nil {
			return nil, 0, err
		}
		t.HasUlToken = true
		copy(t.UlToken[:], b[p:p+36])
		p += 36
	}

	if err := need(2); err != nil {
		return nil, 0, err
	}
	urlsLen := int(binary.LittleEndian.Uint16(b[p : p+2]))
	p += 2
	if err := need(urlsLen); err != nil {
		return nil, 0, err
	}
	combined := string(b[p : p+urlsLen])
	p += urlsLen
	if combined != "" {
		t.TempURLs = quirkSplitURLs(combined)
	}
	if len(t.TempURLs) != 0 && len(t.TempURLs) != 1 && len(t.TempURLs) != 6 {
		return nil, 0, fmt.Errorf("transfer: tempurls length %d, want 1 or 6", len(t.TempURLs))
	}

	if err := need(1); err != nil {
		return nil, 0, err
	}
	t.State = clampPersistedState(State(b[p]))
	p++

	if err := need(8); err != nil {
		return nil, 0, err
	}
	t.Priority = int64(binary.LittleEndian.Uint64(b[p : p+8]))
	p += 8

	if err := need(1); err != nil {
		return nil, 0, err
	}
	_ = b[p] // version, currently always 1
	p++

	if err := need(1); err != nil {
		return nil, 0, err
	}
	flags := b[p]
	p++

	t.LocalPathStructured = flags&flagLocalPathIsStructured != 0
	t.LocalPath = decodeLocalPath(pathBytes, t.LocalPathStructured)

	if flags&flagHasNodeHandle != 0 {
		if err := need(2); err != nil {
			return nil, 0, err
		}
		hl := int(binary.LittleEndian.Uint16(b[p : p+2]))
		p += 2
		if err := need(hl); err != nil {
			return nil, 0, err
		}
		t.NodeHandle = string(b[p : p+hl])
		p += hl
	}
	if flags&flagHasDiscardedTempUrls != 0 {
		if err := need(1); err != nil {
			return nil, 0, err
		}
		t.DiscardedTempUrlsSize = int(b[p])
		p++
	}

	t.listIndex = -1
	return &t, p, nil
}

func clampPersistedState(s State) State {
	if s == StatePaused {
		return StatePaused
	}
	return StateNone
}

// quirkSplitURLs reproduces the original combined-URL splitter's
// substr(pos, len) call: it finds the position of the very first NUL
// in the whole string once, then reuses that position as a constant
// *length* argument on every iteration instead of re-finding the next
// separator. For equal-length elements — the normal case for same-
// service signed temp URLs — every substr(p, firstSepLen) call lands
// exactly on the next element regardless of how many there are, so
// this round-trips correctly for any count, including all 6 RAID
// parts. It only misparses when elements have differing lengths.
func quirkSplitURLs(s string) []string {
	ll := len(s)
	if ll == 0 {
		return nil
	}
	sep := strings.IndexByte(s, 0)
	if sep == -1 {
		return []string{s}
	}
	var out []string
	for p := 0; p < ll; p += sep + 1 {
		end := p + sep
		if end > ll {
			end = ll
		}
		out = append(out, s[p:end])
	}
	return out
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
