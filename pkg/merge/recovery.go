package merge

import (
	"fmt"

	"github.com/blkops/snapmerge/internal/logger"
	"github.com/blkops/snapmerge/pkg/cow"
)

// Recover rebuilds the in-flight window purely from persisted scratch
// metadata after an unclean restart.
//
// The scratch region's committed window sequence is the visibility gate: a
// sequence other than seq means the window never finished committing, so
// there is nothing to recover and the caller re-resolves the window with a
// live pass (false, nil). A matching sequence means the sentinel was
// durably written for a complete window; if the reconstructed map then
// fails to cover every pending destination block, the scratch state
// contradicts its own commit protocol and the merge cannot continue.
//
// A recovered window is reported through the same ReadAheadIOCompleted
// path as a live pass, so downstream logic is uniform.
func (e *Engine) Recover(coord Coordinator, cursor *cow.Cursor, seq uint64) (bool, error) {
	e.bufferMap = nil

	if got := e.region.WindowSeq(); got != seq {
		logger.Info("no committed window to recover",
			"scratch_seq", got, "want_seq", seq)
		return false, nil
	}

	entries, err := e.region.ReadEntries()
	if err != nil {
		coord.ReadAheadIOFailed()
		return false, fmt.Errorf("%w: %v", ErrReadAheadFailed, err)
	}

	bufferMap := make(map[uint64][]byte, len(entries))
	for _, en := range entries {
		block, err := e.region.BlockAt(en.FileOffset)
		if err != nil {
			coord.ReadAheadIOFailed()
			return false, fmt.Errorf("%w: %v", ErrReadAheadFailed, err)
		}
		bufferMap[en.NewBlock] = block
	}

	// Re-derive the window's ops from the checkpointed cursor position
	// and verify the map covers every destination the log demands.
	ops := e.collectWindow(cursor)
	for _, op := range ops {
		if _, ok := bufferMap[op.NewBlock]; !ok {
			coord.ReadAheadIOFailed()
			return false, fmt.Errorf("%w: window %d is missing block %d",
				ErrRecoveryIncomplete, seq, op.NewBlock)
		}
	}

	// Consume the initial readiness token so the recovered window holds the
	// same one-window slack a live commit would. Without this the engine
	// could later overwrite scratch while this window is still being
	// applied.
	if !coord.WaitForMergeReady() {
		return false, nil
	}

	e.windowOps = ops
	e.bufferMap = bufferMap
	e.windowSeq = seq
	e.endPos = cursor.Position()

	e.metrics.WindowRecovered()
	logger.Info("window recovered from scratch metadata",
		"seq", seq, "blocks", len(ops))

	coord.ReadAheadIOCompleted(DetectOverlap(ops))
	return true, nil
}
