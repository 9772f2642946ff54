package merge

// Coordinator is the merge-side contract consumed by the read-ahead engine.
//
// The handshake serializes access to the scratch region: the engine blocks
// in WaitForMergeReady before overwriting scratch, and the coordinator does
// not acknowledge readiness for window N+1 until window N is durably
// applied. That alternation bounds prefetch lead to exactly one window and
// guarantees the two sides never write scratch concurrently.
type Coordinator interface {
	// WaitForMergeReady blocks until the scratch region may be reused.
	// A false return is an abort: the engine must exit promptly without
	// further scratch writes.
	WaitForMergeReady() bool

	// ReadAheadIOCompleted hands over a resolved (or recovered) window.
	// The window's ops, buffer map, and block count are available through
	// the engine's accessors for the duration of the call and until the
	// next WaitForMergeReady acknowledgment. A false return aborts the
	// engine.
	ReadAheadIOCompleted(overlap bool) bool

	// ReadAheadIOFailed reports a fatal failure of the attempt. The
	// engine terminates after calling it; there is no retry inside the
	// engine.
	ReadAheadIOFailed()
}
