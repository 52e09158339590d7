package frames

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotFound reports a missing artifact. It matches fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("frame file not found: %w", fs.ErrNotExist)
	// ErrExists reports a write or move onto an occupied name. It matches fs.ErrExist.
	ErrExists = fmt.Errorf("frame file already exists: %w", fs.ErrExist)
	// ErrInvalidName reports a path that is not absolute or has no known extension.
	ErrInvalidName = errors.New("invalid frame file name")
	// ErrMaskLength reports a selection mask that does not cover every frame.
	ErrMaskLength = errors.New("selection mask length does not match frame count")
	// ErrEmptySelection reports a mask that selects no frame.
	ErrEmptySelection = errors.New("selection mask selects no frame")
	// ErrKindMismatch reports an operation mixing different file kinds.
	ErrKindMismatch = errors.New("frame file kinds differ")
	// ErrDataNotLoaded reports an in-memory file without frame data.
	ErrDataNotLoaded = errors.New("frame data not loaded")
	// ErrNoTiming reports a file that has no timing log to work with.
	ErrNoTiming = errors.New("frame file has no timing log")
	// ErrPairedRename reports a half-moved data/timing pair that needs manual recovery.
	ErrPairedRename = errors.New("paired rename left artifacts split")
)

// PairedRenameError describes a move where the timing sidecar reached its new
// name, the data artifact did not, and restoring the sidecar failed too.
type PairedRenameError struct {
	TimingFrom  string
	TimingTo    string
	DataFrom    string
	DataTo      string
	Err         error
	RollbackErr error
}

func (e *PairedRenameError) Error() string {
	return fmt.Sprintf("move %s -> %s failed after sidecar moved to %s (rollback: %v): %v",
		e.DataFrom, e.DataTo, e.TimingTo, e.RollbackErr, e.Err)
}

func (e *PairedRenameError) Unwrap() []error {
	return []error{ErrPairedRename, e.Err}
}
