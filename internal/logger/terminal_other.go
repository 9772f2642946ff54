//go:build !linux

package logger

// isTerminal reports whether fd refers to a terminal. Non-Linux builds are
// only used for development tooling, so color detection is disabled there.
func isTerminal(fd uintptr) bool {
	return false
}
