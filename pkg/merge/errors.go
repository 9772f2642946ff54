package merge

import "errors"

var (
	// ErrReadAheadFailed indicates an I/O failure while resolving a
	// window. Fatal for the attempt; the only retry path is relaunching
	// the merge.
	ErrReadAheadFailed = errors.New("read-ahead failed")

	// ErrRecoveryIncomplete indicates a committed scratch window whose
	// metadata does not cover every pending destination block. The
	// scratch state contradicts its own commit protocol, so the merge
	// cannot proceed.
	ErrRecoveryIncomplete = errors.New("recovered buffer map incomplete")

	// ErrAborted indicates the merge was cancelled by the caller.
	ErrAborted = errors.New("merge aborted")

	// ErrSessionMismatch indicates a checkpoint and scratch region that
	// belong to different merge sessions.
	ErrSessionMismatch = errors.New("scratch session mismatch")
)
