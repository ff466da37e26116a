package transfer

import (
	"time"

	"github.com/FraMan97/kairos/internal/backoff"
	"github.com/FraMan97/kairos/internal/chunkmac"
	"github.com/FraMan97/kairos/internal/distributor"
	"github.com/FraMan97/kairos/internal/xferrors"
	"github.com/google/uuid"
)

// Notifier delivers the user-visible events spec §7 requires.
type Notifier interface {
	Update(t *Transfer)
	Failed(t *Transfer, err error, timeLeft time.Duration)
	Complete(t *Transfer)
	Removed(t *Transfer)
}

// FileIO is the file-system collaborator Transfer.Complete consults to
// reopen and re-fingerprint a placed/uploaded file. Real access (open,
// read, set-mtime) is out of scope per spec §1; this is the seam.
type FileIO interface {
	SetMtime(localPath string, mtime int64) error
	Fingerprint(localPath string) (Fingerprint, error)
}

// Committer batches persistence writes across one public mutator call,
// per the "commit object as a scoped resource" design note: acquire at
// entry, mark every mutated Transfer, and the caller flushes/releases
// on all exit paths (typically via defer).
type Committer interface {
	MarkDirty(t *Transfer)
}

// AccountState is the shared, account-wide backoff gate: entering
// overquota or paywall stops dispatch of every same-direction transfer
// until it's cleared, independent of any one transfer's own backoff.
type AccountState struct {
	OverQuotaUntil time.Time
	PayWalled      bool
}

// Active reports whether the account-wide gate currently blocks
// dispatch.
func (a *AccountState) Active() bool {
	return a.PayWalled || time.Now().Before(a.OverQuotaUntil)
}

// Transfer is the per-transfer state machine (spec C7 / §3).
type Transfer struct {
	// ID identifies this transfer across a restart — the store's
	// bucket key. Assigned once at New and never reused.
	ID string

	Direction Direction

	Fingerprint    Fingerprint
	BadFingerprint *Fingerprint

	Size int64
	Pos  int64

	LocalPath           string
	LocalPathStructured bool

	FileKey     [32]byte
	CtrIV       uint64
	MetaMac     uint64
	TransferKey [16]byte

	ChunkMacs *chunkmac.Map

	Files []*File

	TempURLs              []string
	DiscardedTempUrlsSize int

	HasUlToken bool
	UlToken    [36]byte

	NodeHandle string

	FailCount int
	Priority  int64
	State     State
	Backoff   *backoff.Timer

	LastAccessTime time.Time

	// set to -1 by New and by Unserialize; TransferList locates entries
	// by scanning and does not update it.
	listIndex int // -1 when not indexed
}

// New constructs a freshly queued Transfer.
func New(dir Direction, localPath string, size int64) *Transfer {
	cat := backoff.CategoryGet
	if dir == PUT {
		cat = backoff.CategoryPut
	}
	return &Transfer{
		ID:              uuid.New().String(),
		Direction:       dir,
		LocalPath:       localPath,
		Size:            size,
		State:           StateQueued,
		ChunkMacs:       chunkmac.New(),
		Backoff:         backoff.New(cat),
		LastAccessTime:  time.Now(),
		listIndex:       -1,
	}
}

// SizeCategory buckets this transfer for scheduling.
func (t *Transfer) SizeCategory() SizeCategory {
	if t.Size > 131072 {
		return LargeFile
	}
	return SmallFile
}

// Progress reports (pos, completed) per the chunk-mac progress
// accounting; for a zero-size transfer this trivially reports done.
func (t *Transfer) Progress() (pos, completed int64) {
	if t.Size == 0 {
		return 0, 0
	}
	pos, completed, _ = t.ChunkMacs.CalcProgress(t.Size)
	return pos, completed
}

// AttachFile binds f to this transfer.
func (t *Transfer) AttachFile(f *File) {
	f.Transfer = t
	t.Files = append(t.Files, f)
}

// removeFile detaches and drops f from the attached list.
func (t *Transfer) removeFile(f *File) {
	f.detach()
	out := t.Files[:0]
	for _, other := range t.Files {
		if other != f {
			out = append(out, other)
		}
	}
	t.Files = out
}

// destroy tears the transfer down: detach every file's back-reference.
// Unlinking the transfer from its TransferList is the list's job, not
// this method's — Transfer has no back-reference to its list.
func (t *Transfer) destroy() {
	for _, f := range t.Files {
		f.detach()
	}
	t.Files = nil
}

// purgeCancelledFiles removes every file whose cancellation token has
// tripped, without touching its siblings.
func (t *Transfer) purgeCancelledFiles() {
	out := t.Files[:0]
	for _, f := range t.Files {
		if f.Cancelled() {
			f.detach()
			continue
		}
		out = append(out, f)
	}
	t.Files = out
}

// FailedOptions carries the failure-path's external signals — none of
// which the engine itself computes.
type FailedOptions struct {
	Notifier             Notifier
	FS                   FileIO
	Committer            Committer
	Account              *AccountState
	ForeignOnlyNoRelief   bool // foreign-only targets with no bandwidth reprieve available
	StorageUnavailable    bool // PUT: storage server unreachable, tempurls empty
	LocalFileSize         int64
	LocalFileMtime        int64
	// Terminal forces the destroy path regardless of any file's vote
	// to defer — used when the caller already knows retrying cannot
	// help, e.g. the same bad fingerprint seen twice in a row.
	Terminal bool
}

// Failed implements spec §4.6's failed(err, timeleft) policy table,
// then the per-file voting pass.
func (t *Transfer) Failed(err error, timeLeft time.Duration, o FailedOptions) {
	defer func() {
		if o.Committer != nil {
			o.Committer.MarkDirty(t)
		}
	}()

	terminal := o.Terminal
	switch err {
	case xferrors.EOverQuota, xferrors.EPayWall:
		if err == xferrors.EOverQuota {
			o.Account.OverQuotaUntil = time.Now().Add(nonNegative(timeLeft))
		} else {
			o.Account.PayWalled = true
		}
		if o.ForeignOnlyNoRelief {
			terminal = true
		} else {
			d := timeLeft
			if d <= 0 {
				d = backoff.Never
			}
			t.Backoff.BackoffFor(d)
			t.State = StateRetrying
		}
	case xferrors.EArgs, xferrors.ESubUserKeyMissing:
		o.Notifier.Failed(t, err, timeLeft)
		t.dropNonSyncFilesImmediately()
	case xferrors.EBlocked:
		if t.Direction == GET {
			o.Notifier.Failed(t, err, timeLeft)
			t.dropNonSyncFilesImmediately()
		} else {
			t.Backoff.Backoff()
			t.State = StateRetrying
			o.Notifier.Update(t)
		}
	case xferrors.ETooMany:
		if t.Direction == GET {
			o.Notifier.Failed(t, err, timeLeft)
			t.dropNonSyncFilesImmediately()
		} else {
			t.Backoff.Backoff()
			t.State = StateRetrying
			o.Notifier.Update(t)
		}
	case xferrors.EBusinessPastDue:
		terminal = true
		t.disableSyncFiles()
	default:
		t.Backoff.Backoff()
		t.State = StateRetrying
		o.Notifier.Update(t)
	}

	if t.Direction == PUT && o.ForeignOnlyNoRelief {
		t.removeForeignFiles()
	}

	defers := false
	for _, f := range t.Files {
		if f.Failed(err) {
			defers = true
		}
	}
	if t.Direction == PUT && o.StorageUnavailable && len(t.TempURLs) == 0 && t.FailCount < 16 {
		defers = true
	}

	if defers && !terminal {
		t.TempURLs = nil
		if t.Direction == PUT {
			t.ChunkMacs = chunkmac.New()
			t.Pos = 0
			t.HasUlToken = false
			if (o.LocalFileSize != 0 && o.LocalFileSize != t.Size) || t.fileChanged(o) {
				// The local file moved under us mid-upload; deferring
				// further would just fail again on the next attempt.
				terminal = true
			}
		}
	}

	if defers && !terminal {
		t.FailCount++
		t.State = StateRetrying
		return
	}

	t.State = StateFailed
	for _, f := range t.Files {
		t.removeFile(f)
	}
	o.Notifier.Removed(t)
	t.destroy()
}

func (t *Transfer) fileChanged(o FailedOptions) bool {
	return o.LocalFileMtime != 0 && t.FailCount > 0 && o.LocalFileMtime != t.lastKnownMtime()
}

func (t *Transfer) lastKnownMtime() int64 {
	return t.Fingerprint.Mtime
}

func (t *Transfer) dropNonSyncFilesImmediately() {
	out := t.Files[:0]
	for _, f := range t.Files {
		if f.Sync() {
			out = append(out, f)
			continue
		}
		f.detach()
	}
	t.Files = out
}

func (t *Transfer) disableSyncFiles() {
	for _, f := range t.Files {
		if f.Sync() {
			f.Cancel()
		}
	}
}

func (t *Transfer) removeForeignFiles() {
	out := t.Files[:0]
	for _, f := range t.Files {
		if f.Foreign {
			f.detach()
			continue
		}
		out = append(out, f)
	}
	t.Files = out
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// CompleteOptions carries spec §4.6 complete()'s external signals.
type CompleteOptions struct {
	Notifier    Notifier
	FS          FileIO
	Committer   Committer
	Distribute  func(localPath string, target distributor.Target) error
	QueueAttr   func(nodeHandle string, fp Fingerprint)
	QueueMedia  func(localPath string)
	TargetMtime int64
}

// Complete implements spec §4.6's GET and PUT completion paths.
func (t *Transfer) Complete(o CompleteOptions) {
	defer func() {
		if o.Committer != nil {
			o.Committer.MarkDirty(t)
		}
	}()

	if t.Direction == GET {
		t.completeGet(o)
		return
	}
	t.completePut(o)
}

func (t *Transfer) completeGet(o CompleteOptions) {
	if o.FS != nil {
		_ = o.FS.SetMtime(t.LocalPath, o.TargetMtime)
	}
	var onDisk Fingerprint
	if o.FS != nil {
		fp, err := o.FS.Fingerprint(t.LocalPath)
		if err == nil {
			onDisk = fp
		}
	}

	if t.Fingerprint.Valid && onDisk.Valid && !t.Fingerprint.Equal(onDisk) {
		for _, f := range t.Files {
			if f.Sync() {
				if t.BadFingerprint != nil && t.BadFingerprint.Equal(t.Fingerprint) {
					// Same mismatch seen before: surrender the transfer
					// rather than loop forever re-downloading.
					t.failTerminal(xferrors.EWrite, o)
					return
				}
				bf := t.Fingerprint
				t.BadFingerprint = &bf
				t.Failed(xferrors.EWrite, 0, FailedOptions{Notifier: o.Notifier, FS: o.FS, Committer: o.Committer, Account: &AccountState{}})
				return
			}
		}
		// Non-sync: if mtime is close, assume the setter silently
		// failed rather than the content actually having changed.
		if absInt64(onDisk.Mtime-t.Fingerprint.Mtime) > 2 {
			t.failTerminal(xferrors.EWrite, o)
			return
		}
	}

	for _, f := range t.Files {
		if o.QueueAttr != nil && f.NodeHandle != "" {
			o.QueueAttr(f.NodeHandle, t.Fingerprint)
		}
	}

	remaining := t.Files[:0]
	for _, f := range t.Files {
		if f.Sync() {
			// Sync-bound files are not placed here: they stay attached
			// to the transfer, so it does not reach COMPLETED while any
			// of them remain.
			remaining = append(remaining, f)
			continue
		}
		if o.Distribute != nil {
			err := o.Distribute(t.LocalPath, distributor.Target{Path: f.LocalName, Policy: f.Collision})
			if pe, ok := err.(*distributor.PlacementError); ok {
				if pe.Kind == distributor.ErrTransient {
					t.Backoff.BackoffFor(1100 * time.Millisecond) // retrybt: 11 ds
					remaining = append(remaining, f)
					continue
				}
				f.detach()
				continue
			} else if err != nil {
				f.detach()
				continue
			}
		}
		f.detach()
	}
	t.Files = remaining

	if len(t.Files) == 0 {
		t.State = StateCompleted
		if o.Notifier != nil {
			o.Notifier.Complete(t)
		}
		t.destroy()
	}
}

func (t *Transfer) completePut(o CompleteOptions) {
	for _, f := range t.Files {
		if o.FS == nil {
			continue
		}
		fp, err := o.FS.Fingerprint(f.LocalName)
		if err != nil || !fp.Equal(t.Fingerprint) {
			t.removeFile(f)
		}
	}
	if len(t.Files) == 0 {
		t.Failed(xferrors.ERead, 0, FailedOptions{Notifier: o.Notifier, FS: o.FS, Committer: o.Committer, Account: &AccountState{}})
		return
	}
	if o.QueueMedia != nil {
		o.QueueMedia(t.LocalPath)
	}
	t.checkFaCompletion(o)
}

// checkFaCompletion finalises a PUT once attribute extraction has been
// queued; modelled as synchronous here since media extraction is an
// external collaborator the engine only dispatches to, not one it
// blocks on.
func (t *Transfer) checkFaCompletion(o CompleteOptions) {
	t.State = StateCompleted
	if o.Notifier != nil {
		o.Notifier.Complete(t)
	}
	t.destroy()
}

func (t *Transfer) failTerminal(err error, o CompleteOptions) {
	t.Failed(err, 0, FailedOptions{Notifier: o.Notifier, FS: o.FS, Committer: o.Committer, Account: &AccountState{}, Terminal: true})
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// CheckCompletionToken reports whether a PUT carrying a previously
// issued upload token can skip straight to server-side completion
// instead of re-uploading — the fast path the original implementation
// takes when a PUT is resumed after having already reached 100%.
func (t *Transfer) CheckCompletionToken() bool {
	return t.Direction == PUT && t.HasUlToken && t.Pos >= t.Size
}
