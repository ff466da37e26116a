package directread

import (
	"time"

	"github.com/FraMan97/kairos/internal/config"
	"github.com/FraMan97/kairos/internal/xferrors"
)

// URLFetcher resolves fresh temporary URLs for a remote file — the
// node-graph / metadata service collaborator the spec places out of
// scope. The engine only consumes what this returns.
type URLFetcher func() (urls []string, ttl time.Duration, err error)

// DirectRead is one requested byte range under a Node (spec C5 leaf).
type DirectRead struct {
	Node    *Node
	Offset  int64
	Count   int64 // -1 means "to end of file"
	Tag     string
	cb      Callback
	posDone int64 // next absolute offset still owed to this read
	revoked bool
}

func (r *DirectRead) deliver(data []byte, offset int64) bool {
	if r.revoked || r.cb == nil {
		return false
	}
	res := r.cb(Event{Kind: EventData, Data: data, Offset: offset})
	return res.Continue
}

func (r *DirectRead) failure(err error, timeLeftDs int64) int64 {
	if r.revoked || r.cb == nil {
		return GiveUp
	}
	res := r.cb(Event{Kind: EventFailure, Err: err, TimeLeftDs: timeLeftDs})
	return res.RetryDeltaDs
}

// Valid reports whether the owner still considers this read live.
func (r *DirectRead) Valid() bool {
	if r.revoked || r.cb == nil {
		return false
	}
	res := r.cb(Event{Kind: EventIsValid})
	return res.Valid
}

// Revoke marks the read cancelled; any further delivery short-circuits.
func (r *DirectRead) Revoke() {
	if r.revoked {
		return
	}
	r.revoked = true
	if r.cb != nil {
		r.cb(Event{Kind: EventRevoke})
	}
}

// Node coalesces DirectReads on one remote file (spec C5).
type Node struct {
	Size       int64
	CipherKey  []byte // opaque: crypto primitives are an external collaborator
	CounterIV  []byte
	urls       []string
	fetch      URLFetcher
	sched      *Scheduler
	pos        int64 // absolute offset delivered so far, for ordering guarantee
	reads      []*DirectRead
	slot       *Slot
	retries    int
	altPort    bool
	autoPort   bool
	cmdInFlight bool
	quotaUntil time.Time
}

// NewNode constructs a Node backed by fetch for URL (re)acquisition.
func NewNode(size int64, fetch URLFetcher, sched *Scheduler, autoPort bool) *Node {
	return &Node{Size: size, fetch: fetch, sched: sched, autoPort: autoPort}
}

// Enqueue appends a new DirectRead and returns it.
func (n *Node) Enqueue(offset, count int64, tag string, cb Callback) *DirectRead {
	r := &DirectRead{Node: n, Offset: offset, Count: count, Tag: tag, cb: cb, posDone: offset}
	n.reads = append(n.reads, r)
	return r
}

// Dispatch issues the "fetch temporary URLs" command if reads are
// pending and none is already in flight; with no reads left it tears
// itself down, releasing its slot.
func (n *Node) Dispatch() {
	n.purgeRevoked()
	if len(n.reads) == 0 {
		n.teardown()
		return
	}
	if n.cmdInFlight {
		return
	}
	if !n.quotaUntil.IsZero() && time.Now().Before(n.quotaUntil) {
		n.sched.Schedule(n, n.quotaUntil)
		return
	}
	n.cmdInFlight = true
	n.sched.Schedule(n, time.Now().Add(time.Duration(config.TempURLTimeoutDs)*100*time.Millisecond))
	go func() {
		urls, ttl, err := n.fetch()
		n.cmdResultAsync(urls, ttl, err)
	}()
}

// cmdResultAsync is the async completion of the fetch goroutine kicked
// off by Dispatch; real callers should instead route this through
// their own event loop and call CmdResult directly. Kept here so tests
// exercising Dispatch end-to-end don't need a loop of their own.
func (n *Node) cmdResultAsync(urls []string, ttl time.Duration, err error) {
	n.CmdResult(urls, err, ttl)
}

// CmdResult handles completion of the temporary-URL fetch. On success
// it adopts the new URL set atomically and moves every pending read into
// the shared ready queue; it does not build a slot (NewSlot does that).
// On error it delegates to Retry.
func (n *Node) CmdResult(urls []string, err error, ttl time.Duration) {
	n.cmdInFlight = false
	n.sched.Unschedule(n)
	if err != nil {
		n.Retry(err, ttl)
		return
	}
	n.urls = urls
	for _, r := range n.reads {
		if !r.revoked {
			n.sched.EnqueueReady(r)
		}
	}
}

// Retry bumps the retry count, toggles the alt-download-port flag when
// auto-port is enabled, notifies every pending read's failure callback,
// and reschedules based on the minimum suggested delta — excluding any
// read that signalled permanent give-up.
func (n *Node) Retry(err error, timeLeft time.Duration) {
	n.retries++
	if n.autoPort {
		n.altPort = !n.altPort
	}

	timeLeftDs := int64(timeLeft / (100 * time.Millisecond))
	min := int64(-1)
	for _, r := range n.reads {
		if r.revoked {
			continue
		}
		delta := r.failure(err, timeLeftDs)
		if delta == GiveUp {
			continue
		}
		if min == -1 || delta < min {
			min = delta
		}
	}

	switch err {
	case xferrors.EOverQuota:
		n.quotaUntil = time.Now().Add(timeLeft)
	case xferrors.EPayWall:
		// NEVER: no amount of waiting helps until the account is
		// unblocked elsewhere; leave this node unscheduled.
		n.sched.Unschedule(n)
		return
	}

	n.purgeRevoked()
	if len(n.reads) == 0 {
		n.teardown()
		return
	}
	if min <= 0 {
		n.Dispatch()
		return
	}
	n.sched.Schedule(n, time.Now().Add(time.Duration(min)*100*time.Millisecond))
}

// Schedule places a deadline entry for this node in the shared
// scheduler, replacing any prior entry.
func (n *Node) Schedule(delta time.Duration) {
	n.sched.Schedule(n, time.Now().Add(delta))
}

func (n *Node) purgeRevoked() {
	live := n.reads[:0]
	for _, r := range n.reads {
		if !r.revoked {
			live = append(live, r)
		}
	}
	n.reads = live
}

func (n *Node) teardown() {
	n.sched.Unschedule(n)
	n.slot = nil
}

// Slot returns the node's active slot, if any.
func (n *Node) Slot() *Slot { return n.slot }

// URLs returns the node's currently adopted temporary URLs.
func (n *Node) URLs() []string { return n.urls }

// AltPort reports whether alternate-port mode is currently selected.
func (n *Node) AltPort() bool { return n.altPort }
