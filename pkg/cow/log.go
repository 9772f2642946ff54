package cow

import (
	"errors"
	"fmt"
)

// ErrCursorOutOfRange indicates a cursor seek past the end of the log.
var ErrCursorOutOfRange = errors.New("cursor position out of range")

// Log is an ordered, replayable sequence of COW operations.
//
// The log is immutable once built. Iteration state lives entirely in Cursor
// values so a merge can be resumed from a checkpointed position without any
// hidden iterator state.
type Log struct {
	ops []Operation
}

// NewLog builds a log from the given operations, validating each one.
func NewLog(ops []Operation) (*Log, error) {
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
	}
	return &Log{ops: ops}, nil
}

// Len returns the number of operations in the log.
func (l *Log) Len() int {
	return len(l.ops)
}

// At returns the operation at index i.
func (l *Log) At(i int) Operation {
	return l.ops[i]
}

// DataOps returns the number of non-control operations.
func (l *Log) DataOps() int {
	n := 0
	for _, op := range l.ops {
		if !op.IsControl() {
			n++
		}
	}
	return n
}

// Cursor returns a cursor positioned at the given operation index.
// A position equal to Len() yields an exhausted cursor.
func (l *Log) Cursor(pos int) (*Cursor, error) {
	if pos < 0 || pos > len(l.ops) {
		return nil, fmt.Errorf("%w: %d (log has %d ops)", ErrCursorOutOfRange, pos, len(l.ops))
	}
	return &Cursor{log: l, pos: pos}, nil
}

// Cursor is a restartable forward cursor over a Log.
//
// Position is plain state: callers persist it in their checkpoint and
// reconstruct the cursor with Log.Cursor after a restart.
type Cursor struct {
	log *Log
	pos int
}

// Done reports whether the cursor is exhausted.
func (c *Cursor) Done() bool {
	return c.pos >= len(c.log.ops)
}

// Current returns the operation under the cursor. Calling Current on an
// exhausted cursor panics; check Done first.
func (c *Cursor) Current() Operation {
	return c.log.ops[c.pos]
}

// Advance moves the cursor one operation forward.
func (c *Cursor) Advance() {
	if c.pos < len(c.log.ops) {
		c.pos++
	}
}

// Position returns the current operation index.
func (c *Cursor) Position() int {
	return c.pos
}

// Remaining returns the number of operations left under the cursor.
func (c *Cursor) Remaining() int {
	return len(c.log.ops) - c.pos
}
