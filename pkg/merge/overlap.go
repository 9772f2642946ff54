package merge

import "github.com/blkops/snapmerge/pkg/cow"

// DetectOverlap reports whether any operation in the window has a data
// hazard with an operation before it.
//
// Ops are scanned in order while two block sets are maintained: blocks
// already written (destinations) and blocks already read (sources). An op
// overlaps if its source block was already written, or its destination was
// already read or written. An Xor source with a nonzero intra-block offset
// spans two physical blocks, so the following block participates too.
//
// The decision is window-wide and binary: one hazard flags the whole
// window, and the scan stops at the first hit. A flagged window must be
// applied strictly from scratch data, never re-read from the base device.
func DetectOverlap(ops []cow.Operation) bool {
	destSeen := make(map[uint64]struct{}, len(ops))
	sourceSeen := make(map[uint64]struct{}, len(ops))

	for _, op := range ops {
		if op.IsControl() {
			continue
		}

		if op.HasSourceRead() {
			src := op.SourceBlock()
			if _, ok := destSeen[src]; ok {
				return true
			}
			if op.SpansTwoBlocks() {
				if _, ok := destSeen[src+1]; ok {
					return true
				}
			}
		}

		if _, ok := sourceSeen[op.NewBlock]; ok {
			return true
		}
		if _, ok := destSeen[op.NewBlock]; ok {
			return true
		}

		destSeen[op.NewBlock] = struct{}{}
		if op.HasSourceRead() {
			sourceSeen[op.SourceBlock()] = struct{}{}
			if op.SpansTwoBlocks() {
				sourceSeen[op.SourceBlock()+1] = struct{}{}
			}
		}
	}
	return false
}
