package directread

import (
	"context"
	"net/url"
	"time"

	"github.com/FraMan97/kairos/internal/config"
	"github.com/FraMan97/kairos/internal/httpx"
	"github.com/FraMan97/kairos/internal/raid"
	"github.com/FraMan97/kairos/internal/xferrors"
)

// connState tracks one connection's throughput sample, its unsubmitted
// input buffer, and the bookkeeping searchAndDisconnectSlowestConnection/
// watchdog need.
type connState struct {
	req           httpx.Req
	pending       []byte // bytes read from req but not yet submitted to the RAID buffer
	bytesSample   int64
	sampleStart   time.Time
	throughput    float64 // bytes/sec, smoothed — the "aggregated throughput" spec §4.5 item 1 means
	lastSubmitted int64
	switches      int
	switchWindow  time.Time
	inflight      bool
}

// Slot is the DirectReadSlot (spec C6): the active streaming context
// owning a connection pool, the RAID buffer, and the watchdog.
type Slot struct {
	node   *Node
	client *httpx.Client
	raid   *raid.Manager
	conns  []*connState

	watchdogStart  time.Time
	waitForParts   bool
	meanSpeedStart time.Time
	minPerConnRate int64 // 0 disables the minimum-rate check
}

// NewSlot builds a slot for n, issuing request against the urls it has
// already adopted. client supplies the pooled HttpReq implementation.
func NewSlot(n *Node, client *httpx.Client, start, endExclusive, maxReqSize int64, minStreamingRate int64) (*Slot, error) {
	rm := raid.New()
	if err := rm.SetIsRaid(n.urls, start, endExclusive, n.Size, maxReqSize, false); err != nil {
		return nil, err
	}
	s := &Slot{
		node:           n,
		client:         client,
		raid:           rm,
		minPerConnRate: minConnRate(minStreamingRate, len(n.urls)),
		watchdogStart:  time.Now(),
		meanSpeedStart: time.Now(),
	}
	s.conns = make([]*connState, len(n.urls))
	for i := range s.conns {
		s.conns[i] = &connState{req: client.NewReq()}
	}
	n.slot = s
	return s, nil
}

// minConnRate implements spec §4.5.1: min(client.minstreamingrate,
// 0=>MIN_BYTES_PER_SECOND) / parts, with the documented edge cases.
func minConnRate(minStreamingRate int64, parts int) int64 {
	if minStreamingRate == 0 {
		return 0 // explicitly disabled
	}
	base := minStreamingRate
	if base < 0 {
		base = int64(config.MinBytesPerSecond)
	}
	per := base / int64(parts)
	if per < 1 {
		per = 1
	}
	return per
}

// AdjustURLPort implements spec §4.5.3: only http:// URLs are touched;
// HTTPS URLs pass through unchanged.
func AdjustURLPort(raw string, useAltPort bool) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" {
		return raw
	}
	host := u.Hostname()
	hasPort := u.Port() != ""
	switch {
	case useAltPort && !hasPort:
		u.Host = host + ":" + config.AltDownloadPort
	case !useAltPort && hasPort:
		u.Host = host
	}
	return u.String()
}

func (s *Slot) tempURL(i int) string {
	return AdjustURLPort(s.node.urls[i], s.node.altPort)
}

// DoIO advances every connection one tick: drains finished/partial
// requests into the RAID buffer, delivers assembled output, schedules
// the next request for idle connections, and consults the watchdog.
// It processes connections in reverse index order, matching the
// original's bias toward servicing the parity/spare-adjacent
// connections first when replacing a slow one.
func (s *Slot) DoIO(ctx context.Context) {
	for i := len(s.conns) - 1; i >= 0; i-- {
		if s.drainConnection(ctx, i) {
			return // read was destroyed mid-drain
		}
	}
	for i := len(s.conns) - 1; i >= 0; i-- {
		if s.scheduleConnection(ctx, i) {
			return
		}
	}
	if s.watchOverDirectReadPerformance() {
		s.retryEntireTransfer()
	}
}

// drainConnection reads whatever bytes are available on connection i,
// submits an adaptively-sized slice of them to the RAID buffer, and
// flushes any newly contiguous output to the node's active reads. It
// returns true if delivering output caused the node (and this slot) to
// be torn down.
func (s *Slot) drainConnection(ctx context.Context, i int) bool {
	c := s.conns[i]
	status := c.req.Status()
	if status != httpx.ReqInflight && status != httpx.ReqSuccess {
		if status == httpx.ReqFailure {
			s.handleFailure(i)
		}
		return false
	}

	if fresh := c.req.In(); len(fresh) > 0 {
		c.pending = append(c.pending, fresh...)
	}

	final := status == httpx.ReqSuccess
	n := s.targetSubmitSize(c, final)
	if final || n > 0 {
		piece := c.pending[:n]
		if err := s.raid.SubmitBuffer(i, piece, final); err != nil {
			// Non-final submissions must stay sector-aligned; a
			// violation here means the upstream chunk-sizing picked a
			// bad size. Treat as a connection failure and retry it.
			s.handleFailure(i)
			return false
		}
		c.pending = c.pending[n:]
		if n > 0 {
			c.bytesSample += n
			c.lastSubmitted = n
			s.sampleThroughput(c)
		}
	}

	if status == httpx.ReqSuccess {
		c.inflight = false
		c.req.Disconnect()
	}

	return s.drainOutput()
}

// targetSubmitSize implements spec §4.5 item 1's adaptive chunk sizing:
// the submit size is derived from the connection's rolling (aggregated)
// throughput, floored to minChunkDivisibleSize, capped at
// MAX_DELIVERY_CHUNK, and for RAID must stay a multiple of RAIDSECTOR
// except on the final tail. To avoid fragmenting into a string of
// near-equal chunks, a new size within one binary magnitude of the
// last submitted size reuses the old size instead. Returns 0 if there
// isn't yet enough buffered to submit a full chunk — not final, since
// the final tail always flushes whatever remains regardless of size.
func (s *Slot) targetSubmitSize(c *connState, final bool) int64 {
	avail := int64(len(c.pending))
	if final {
		return avail
	}
	if avail == 0 {
		return 0
	}

	n := int64(c.throughput)
	if floor := minChunkDivisibleSize(s.minPerConnRate); n < floor {
		n = floor
	}
	if n > int64(config.MAX_DELIVERY_CHUNK) {
		n = int64(config.MAX_DELIVERY_CHUNK)
	}
	if c.lastSubmitted > 0 && withinOneMagnitude(n, c.lastSubmitted) {
		n = c.lastSubmitted
	}
	if s.raid.IsRaid() {
		n = alignDownSector(n)
	}
	if n <= 0 || n > avail {
		return 0
	}
	return n
}

// minChunkDivisibleSize is spec §4.5 item 1's floor: 16 KB, or the
// connection's own minimum rate if that happens to be smaller.
func minChunkDivisibleSize(minPerConnRate int64) int64 {
	if minPerConnRate > 0 && minPerConnRate < config.MIN_CHUNK_DIVISIBLE_SIZE {
		return minPerConnRate
	}
	return config.MIN_CHUNK_DIVISIBLE_SIZE
}

// withinOneMagnitude reports whether a and b are within a factor of
// two of each other.
func withinOneMagnitude(a, b int64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	ratio := float64(a) / float64(b)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio < 2
}

func alignDownSector(n int64) int64 {
	sector := int64(config.RAIDSECTOR)
	if n < sector {
		return 0
	}
	return n - n%sector
}

// drainOutput flushes every contiguous piece the RAID buffer has
// assembled to the node's reads, honoring the in-order delivery
// guarantee. Returns true if a read cancelled or the node was torn
// down mid-delivery.
func (s *Slot) drainOutput() bool {
	for {
		piece, ok := s.raid.GetAsyncOutputBufferPointer(0)
		if !ok {
			return false
		}
		offset := s.node.pos
		ok2 := s.deliver(piece, offset)
		s.raid.BufferWriteCompleted(0, true)
		s.node.pos += int64(len(piece))
		if !ok2 {
			s.destroyRead()
			return true
		}
	}
}

// deliver routes a contiguous output piece to whichever active reads
// currently overlap [offset, offset+len(piece)). It returns false if
// any overlapping read cancelled.
func (s *Slot) deliver(piece []byte, offset int64) bool {
	cont := true
	for _, r := range s.node.reads {
		if r.revoked {
			continue
		}
		end := r.Offset + r.Count
		if r.Count < 0 {
			end = s.node.Size
		}
		lo := max64(offset, r.Offset)
		hi := min64(offset+int64(len(piece)), end)
		if lo >= hi {
			continue
		}
		if !r.deliver(piece[lo-offset:hi-offset], lo) {
			cont = false
		}
		r.posDone = hi
	}
	return cont
}

// scheduleConnection issues the next request for connection i if it's
// idle, or marks the node exhausted once every part is done.
func (s *Slot) scheduleConnection(ctx context.Context, i int) bool {
	c := s.conns[i]
	if c.inflight {
		return false
	}
	if s.waitForPartsInFlight() {
		return false
	}
	if s.raid.IsRaid() {
		s.searchAndDisconnectSlowestConnection(i)
	}

	lo, hi, _, pauseForRaid := s.raid.NextNPosForConnection(i)
	if s.drainOutput() {
		return true
	}
	if pauseForRaid {
		return false
	}
	if lo >= hi {
		return s.allPartsDone()
	}

	reqHi := hi
	if err := c.req.Post(ctx, "GET", s.tempURL(i), lo, reqHi, nil); err != nil {
		s.handleFailure(i)
		return false
	}
	c.inflight = true
	c.switchWindow = resetWindow(c.switchWindow)
	s.countInflight()
	return false
}

func (s *Slot) allPartsDone() bool {
	for i, c := range s.conns {
		if c.req.Status() == httpx.ReqInflight {
			return false
		}
		lo, hi, _, _ := s.raid.NextNPosForConnection(i)
		if lo < hi {
			return false
		}
	}
	s.destroyRead()
	return true
}

func (s *Slot) countInflight() {
	n := 0
	for _, c := range s.conns {
		if c.inflight {
			n++
		}
	}
	if n == config.RAIDPARTS {
		s.waitForParts = true
		s.watchdogStart = time.Now()
		s.meanSpeedStart = time.Now()
		for _, c := range s.conns {
			c.bytesSample = 0
			c.sampleStart = time.Now()
		}
	}
}

func (s *Slot) waitForPartsInFlight() bool {
	if !s.waitForParts {
		return false
	}
	for _, c := range s.conns {
		if !c.inflight {
			return true
		}
	}
	s.waitForParts = false
	return false
}

func (s *Slot) sampleThroughput(c *connState) {
	if c.sampleStart.IsZero() {
		c.sampleStart = time.Now()
		return
	}
	elapsed := time.Since(c.sampleStart).Seconds()
	if elapsed <= 0 {
		return
	}
	instant := float64(c.bytesSample) / elapsed
	if c.throughput == 0 {
		c.throughput = instant
	} else {
		c.throughput = (c.throughput + instant) / 2 // mean of chunk and updated throughput
	}
}

// handleFailure is a request's onFailure. HTTP 509 (over transfer
// quota) retries the whole transfer with a fixed backoff; anything
// else goes through retryOnError's per-connection policy.
func (s *Slot) handleFailure(i int) {
	c := s.conns[i]
	httpStatus := c.req.HTTPStatus()
	c.req.Disconnect()
	c.inflight = false
	c.pending = nil // bytes buffered off a now-aborted request can't be trusted
	if httpStatus == 509 {
		s.retryEntireTransferAfter(config.OverTransferQuotaBackoff)
		return
	}
	s.retryOnError(i, httpStatus)
}

// retryOnError implements spec §4.5.2's per-request-error branch: if
// the current spare is reusable and i isn't already the spare, promote
// i to spare; otherwise the connection pool can't absorb the failure
// and the whole transfer is retried.
func (s *Slot) retryOnError(i int, httpStatus int) {
	if !isDefinitive(httpStatus) {
		return // transient; scheduleConnection will simply re-issue it
	}
	if !s.raid.IsRaid() {
		s.retryEntireTransfer()
		return
	}
	spare := s.raid.GetUnusedRaidConnection()
	if spare >= 0 && spare != i && s.spareReusable(spare) {
		s.promoteSpare(i)
		return
	}
	s.retryEntireTransfer()
}

func isDefinitive(httpStatus int) bool {
	switch httpStatus {
	case 400, 403, 404, 410:
		return true
	default:
		return httpStatus >= 500 && httpStatus != 509
	}
}

func (s *Slot) spareReusable(i int) bool {
	return s.conns[i].req.Status() != httpx.ReqFailure
}

// promoteSpare makes i the new spare and resets both it and the old
// spare to a clean, reusable state.
func (s *Slot) promoteSpare(i int) {
	old := s.raid.GetUnusedRaidConnection()
	s.raid.SetUnusedRaidConnection(i)
	s.resetConnection(i)
	if old >= 0 {
		s.resetConnection(old)
	}
}

// resetConnection leaves connection i fully reusable: disconnected,
// zero throughput counters, RAID part buffer reset.
func (s *Slot) resetConnection(i int) {
	c := s.conns[i]
	c.req.Disconnect()
	c.inflight = false
	c.pending = nil
	c.lastSubmitted = 0
	c.bytesSample = 0
	c.throughput = 0
	c.sampleStart = time.Time{}
	s.raid.ResetPart(i)
}

// searchAndDisconnectSlowestConnection implements spec §4.5.2's
// throughput-divergence branch: once connection i is READY and has
// accumulated enough samples, compare every other comparable
// connection; if the slowest diverges from the fastest by the
// configured ratio, promote the slow one to spare.
func (s *Slot) searchAndDisconnectSlowestConnection(i int) {
	c := s.conns[i]
	if c.req.Status() != httpx.ReqReady || c.bytesSample < minComparableThroughput() {
		return
	}
	spare := s.raid.GetUnusedRaidConnection()
	slowest, fastest := -1, -1
	for idx, other := range s.conns {
		if idx == spare || other.bytesSample < minComparableThroughput() {
			continue
		}
		if slowest == -1 || other.throughput < s.conns[slowest].throughput {
			slowest = idx
		}
		if fastest == -1 || other.throughput > s.conns[fastest].throughput {
			fastest = idx
		}
	}
	if slowest == -1 || fastest == -1 || slowest == fastest {
		return
	}
	ratio := config.SlowestToFastestThroughputRatio
	if s.conns[slowest].throughput*float64(ratio[0]) < s.conns[fastest].throughput*float64(ratio[1]) {
		if s.budgetAvailable(slowest) && spare >= 0 && s.spareReusable(spare) {
			s.bumpSwitchBudget(slowest)
			s.promoteSpare(slowest)
		}
	}
}

func minComparableThroughput() int64 { return int64(config.RAIDSECTOR) * 1024 }

func (s *Slot) budgetAvailable(i int) bool {
	c := s.conns[i]
	if time.Since(c.switchWindow) > config.ConnectionSwitchesLimitResetTime {
		c.switches = 0
		c.switchWindow = time.Now()
	}
	return c.switches < config.ConnSwitchesLimitDefault
}

func (s *Slot) bumpSwitchBudget(i int) {
	s.conns[i].switches++
}

func resetWindow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// watchOverDirectReadPerformance implements spec §4.5's watchdog
// branch: after MEAN_SPEED_INTERVAL_DS, find in-flight parts below
// per-connection threshold. If none are slow but the aggregate speed
// is itself below the floor, or too many parts are slow to absorb by
// spare-swap, the whole transfer should be retried; otherwise the
// slowest is promoted to spare. Returns true when the caller should
// retry the entire transfer.
func (s *Slot) watchOverDirectReadPerformance() bool {
	if s.minPerConnRate == 0 {
		return false
	}
	elapsedDs := int64(time.Since(s.meanSpeedStart) / (100 * time.Millisecond))
	if elapsedDs < config.MeanSpeedIntervalDs {
		return false
	}
	defer func() { s.meanSpeedStart = time.Now() }()

	var slow []int
	var total float64
	var n int
	for i, c := range s.conns {
		if !c.inflight {
			continue
		}
		n++
		total += c.throughput
		if int64(c.throughput) < s.minPerConnRate {
			slow = append(slow, i)
		}
	}
	if n == 0 {
		return false
	}
	meanSpeed := total
	if len(slow) == 0 {
		if meanSpeed < float64(s.minPerConnRate)*float64(n) {
			return true
		}
		return false
	}
	if len(slow) > config.MaxSimultaneousSlowRaidedConns {
		return true
	}
	spare := s.raid.GetUnusedRaidConnection()
	if spare < 0 || !s.spareReusable(spare) || !s.budgetAvailable(slow[0]) {
		return true
	}
	s.bumpSwitchBudget(slow[0])
	s.promoteSpare(slow[0])
	return false
}

func (s *Slot) retryEntireTransfer() {
	s.retryEntireTransferAfter(0)
}

func (s *Slot) retryEntireTransferAfter(d time.Duration) {
	for _, r := range s.node.reads {
		if !r.revoked {
			ds := int64(d / (100 * time.Millisecond))
			r.failure(xferrors.EAgain, ds)
		}
	}
	s.destroyRead()
}

func (s *Slot) destroyRead() {
	for _, c := range s.conns {
		c.req.Disconnect()
	}
	s.node.slot = nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
