package transfer

import "github.com/FraMan97/kairos/internal/distributor"

// FileKind distinguishes a File's variant. The spec's design notes ask
// for a tagged union with a small dispatch table rather than an
// interface hierarchy, since the only capabilities needed are
// {failed-vote, completed-notify, terminated-notify, get/set localname}.
type FileKind int

const (
	FilePlainDownload FileKind = iota
	FileSyncDownload
	FileSyncUpload
	FileSupportUpload
)

// fileOps is the dispatch table entry for one FileKind.
type fileOps struct {
	// votesToDefer reports whether a file of this kind wants the
	// transfer to keep retrying rather than give up, for the given
	// error.
	votesToDefer func(err error) bool
}

var fileDispatch = map[FileKind]fileOps{
	FilePlainDownload: {
		votesToDefer: func(err error) bool { return false }, // a plain download never blocks termination
	},
	FileSyncDownload: {
		votesToDefer: func(err error) bool { return true }, // sync files always prefer to keep retrying
	},
	FileSyncUpload: {
		votesToDefer: func(err error) bool { return true },
	},
	FileSupportUpload: {
		votesToDefer: func(err error) bool { return false },
	},
}

// File is a destination bound to a Transfer (spec §3 "File").
type File struct {
	Kind       FileKind
	LocalName  string
	NodeHandle string
	Collision  distributor.Policy
	Foreign    bool // target belongs to another account (overquota fan-out rules)

	cancelled bool

	// Transfer is a non-owning back-reference; the TransferList owns
	// the Transfer and clears this on destruction.
	Transfer *Transfer
}

// NewFile constructs a File of the given kind targeting localName.
func NewFile(kind FileKind, localName string, collision distributor.Policy) *File {
	return &File{Kind: kind, LocalName: localName, Collision: collision}
}

// Sync reports whether this file belongs to the sync engine rather
// than an ad-hoc put/get.
func (f *File) Sync() bool {
	return f.Kind == FileSyncDownload || f.Kind == FileSyncUpload
}

// Cancel marks the file's per-file cancellation token tripped. Checked
// at each scheduling pass; it removes just this file, not its siblings.
func (f *File) Cancel() { f.cancelled = true }

// Cancelled reports the token's state.
func (f *File) Cancelled() bool { return f.cancelled }

// Failed is this file's vote on whether the owning Transfer should
// keep retrying (true) or whether this file, specifically, should be
// unanimous in giving up (false).
func (f *File) Failed(err error) bool {
	return fileDispatch[f.Kind].votesToDefer(err)
}

// GetLocalName/SetLocalName satisfy the spec's minimal File capability
// table.
func (f *File) GetLocalName() string      { return f.LocalName }
func (f *File) SetLocalName(name string)  { f.LocalName = name }

// detach clears the back-reference, called when the owning Transfer is
// destroyed.
func (f *File) detach() { f.Transfer = nil }
