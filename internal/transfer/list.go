package transfer

import (
	"sort"

	"github.com/FraMan97/kairos/internal/config"
)

// listEntry wraps a Transfer with the tombstone flag the lazy-erase
// design calls for: deleting during NextTransfers's iteration just
// marks the slot dead; a later full pass compacts it away, so any
// iterator live at the time of deletion keeps working.
type listEntry struct {
	t    *Transfer
	tomb bool
}

// TransferList is the priority-ordered transfer queue (spec C8): one
// ordered sequence per Direction.
type TransferList struct {
	entries         [2][]*listEntry
	currentPriority [2]int64
	runningSetSize  int // boundary below which a transfer gets a slot
}

// NewTransferList returns an empty list. runningSetSize bounds how many
// of the front-most ready transfers per direction may hold a slot
// concurrently.
func NewTransferList(runningSetSize int) *TransferList {
	return &TransferList{runningSetSize: runningSetSize}
}

// AddTransfer appends (or, if startFirst, prepends) t to its
// direction's list and assigns its priority per spec §3.
func (l *TransferList) AddTransfer(t *Transfer, startFirst bool) {
	l.compact(t.Direction)
	es := l.entries[t.Direction]
	if startFirst && len(es) > 0 {
		t.Priority = es[0].t.Priority - priorityStep()
		l.entries[t.Direction] = append([]*listEntry{{t: t}}, es...)
	} else {
		l.currentPriority[t.Direction] += priorityStep()
		t.Priority = l.currentPriority[t.Direction]
		l.entries[t.Direction] = append(es, &listEntry{t: t})
	}
	t.State = StateQueued
}

func priorityStep() int64 { return config.STEP }

func (l *TransferList) compact(dir Direction) {
	es := l.entries[dir]
	live := es[:0]
	for _, e := range es {
		if !e.tomb {
			live = append(live, e)
		}
	}
	l.entries[dir] = live
}

func (l *TransferList) indexOf(dir Direction, t *Transfer) int {
	es := l.entries[dir]
	for i, e := range es {
		if e.t == t && !e.tomb {
			return i
		}
	}
	return -1
}

// GetIterator binary-searches by priority and confirms identity,
// reporting false if t isn't indexed (or is tombstoned and
// canHandleErased is false).
func (l *TransferList) GetIterator(t *Transfer, canHandleErased bool) (int, bool) {
	es := l.entries[t.Direction]
	i := sort.Search(len(es), func(i int) bool { return es[i].t.Priority >= t.Priority })
	if i < len(es) && es[i].t == t {
		if es[i].tomb && !canHandleErased {
			return i, false
		}
		return i, true
	}
	return -1, false
}

// MoveToPosition relocates t to sit at index idx (post-compaction) in
// its direction's list, recomputing its priority as the midpoint of
// its new neighbours.
func (l *TransferList) MoveToPosition(t *Transfer, idx int) {
	l.compact(t.Direction)
	es := l.entries[t.Direction]
	cur := l.indexOf(t.Direction, t)
	if cur < 0 {
		return
	}
	entry := es[cur]
	without := append(append([]*listEntry{}, es[:cur]...), es[cur+1:]...)
	if idx > cur {
		idx--
	}
	if idx < 0 {
		idx = 0
	}
	if idx > len(without) {
		idx = len(without)
	}
	newList := append(append(append([]*listEntry{}, without[:idx]...), entry), without[idx:]...)
	l.entries[t.Direction] = newList
	l.renumberAround(t.Direction, idx)
	l.handleDisplacement(t.Direction)
}

// MoveBefore relocates t to sit immediately before other.
func (l *TransferList) MoveBefore(t, other *Transfer) {
	idx := l.indexOf(t.Direction, other)
	if idx < 0 {
		return
	}
	l.MoveToPosition(t, idx)
}

// MoveAfter relocates t to sit immediately after other.
func (l *TransferList) MoveAfter(t, other *Transfer) {
	idx := l.indexOf(t.Direction, other)
	if idx < 0 {
		return
	}
	l.MoveToPosition(t, idx+1)
}

// renumberAround assigns the entry at idx a priority at the midpoint
// of its neighbours; if that collides with either neighbour, the
// prefix up to and including idx is renumbered on full STEP strides.
func (l *TransferList) renumberAround(dir Direction, idx int) {
	es := l.entries[dir]
	var lo, hi int64
	hasLo, hasHi := false, false
	if idx > 0 {
		lo, hasLo = es[idx-1].t.Priority, true
	}
	if idx+1 < len(es) {
		hi, hasHi = es[idx+1].t.Priority, true
	}

	var mid int64
	switch {
	case hasLo && hasHi:
		mid = lo + (hi-lo)/2
	case hasLo:
		mid = lo + priorityStep()
	case hasHi:
		mid = hi - priorityStep()
	default:
		mid = priorityStep()
	}

	collision := (hasLo && mid <= lo) || (hasHi && mid >= hi)
	es[idx].t.Priority = mid
	if !collision {
		return
	}
	for i := 0; i <= idx; i++ {
		es[i].t.Priority = int64(i+1) * priorityStep()
	}
	if idx+1 < len(es) && es[idx].t.Priority >= es[idx+1].t.Priority {
		for i := idx + 1; i < len(es); i++ {
			es[i].t.Priority = es[i-1].t.Priority + priorityStep()
		}
	}
	if len(es) > 0 {
		l.currentPriority[dir] = es[len(es)-1].t.Priority
	}
}

// handleDisplacement arms the backoff of any ACTIVE transfer at or
// beyond the running-set boundary and returns it to QUEUED, so the
// transfer newly within the boundary can be admitted on next tick.
func (l *TransferList) handleDisplacement(dir Direction) {
	es := l.entries[dir]
	for i, e := range es {
		if e.tomb {
			continue
		}
		within := i < l.runningSetSize
		if !within && e.t.State == StateActive {
			e.t.Backoff.Arm()
			e.t.State = StateQueued
		}
	}
}

// Pause toggles a transfer between QUEUED/ACTIVE and PAUSED.
func (l *TransferList) Pause(t *Transfer, on bool) {
	if on {
		if t.State == StateActive {
			t.Backoff.Arm()
		}
		t.State = StatePaused
		return
	}
	if t.State == StatePaused {
		t.State = StateQueued
	}
}

// Remove tombstones t's entry; it is physically dropped on the next
// compaction (the next AddTransfer or NextTransfers pass).
func (l *TransferList) Remove(t *Transfer) {
	es := l.entries[t.Direction]
	for _, e := range es {
		if e.t == t {
			e.tomb = true
			return
		}
	}
}

// Len reports the number of live (non-tombstoned) transfers for dir.
func (l *TransferList) Len(dir Direction) int {
	n := 0
	for _, e := range l.entries[dir] {
		if !e.tomb {
			n++
		}
	}
	return n
}

// Priorities returns the live priorities for dir in list order, for
// tests asserting the strictly-increasing invariant.
func (l *TransferList) Priorities(dir Direction) []int64 {
	var out []int64
	for _, e := range l.entries[dir] {
		if !e.tomb {
			out = append(out, e.t.Priority)
		}
	}
	return out
}

// Buckets is the result of NextTransfers: transfers ready to run,
// sorted into their direction/size-category groups. The original
// engine carries six fixed slots for historical symmetry with its
// upload/download worker arrays; only the four meaningfully distinct
// combinations (direction × size) are populated here — see DESIGN.md.
type Buckets struct {
	GetSmall []*Transfer
	GetLarge []*Transfer
	PutSmall []*Transfer
	PutLarge []*Transfer
}

// ContinueFunc gates admission per (direction, bucket): return false
// once the caller has enough candidates in that bucket.
type ContinueFunc func(dir Direction, cat SizeCategory) bool

// NextTransfers walks both directions in priority order, purges
// cancelled files from each live transfer, and buckets every transfer
// whose state allows dispatch (QUEUED or RETRYING-and-armed) by
// direction and size category, honoring continueFn's admission
// control. Tombstoned entries are compacted away as part of the walk.
func (l *TransferList) NextTransfers(continueFn ContinueFunc, committer Committer) Buckets {
	var b Buckets
	for _, dir := range []Direction{GET, PUT} {
		l.compact(dir)
		for _, e := range l.entries[dir] {
			t := e.t
			t.purgeCancelledFiles()
			if len(t.Files) == 0 {
				l.Remove(t)
				continue
			}
			if !dispatchable(t) {
				continue
			}
			cat := t.SizeCategory()
			if !continueFn(dir, cat) {
				continue
			}
			if committer != nil {
				committer.MarkDirty(t)
			}
			appendBucket(&b, dir, cat, t)
		}
	}
	return b
}

func dispatchable(t *Transfer) bool {
	switch t.State {
	case StateQueued:
		return true
	case StateRetrying:
		return t.Backoff.Armed()
	default:
		return false
	}
}

func appendBucket(b *Buckets, dir Direction, cat SizeCategory, t *Transfer) {
	switch {
	case dir == GET && cat == SmallFile:
		b.GetSmall = append(b.GetSmall, t)
	case dir == GET && cat == LargeFile:
		b.GetLarge = append(b.GetLarge, t)
	case dir == PUT && cat == SmallFile:
		b.PutSmall = append(b.PutSmall, t)
	case dir == PUT && cat == LargeFile:
		b.PutLarge = append(b.PutLarge, t)
	}
}
