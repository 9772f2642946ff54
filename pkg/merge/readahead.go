package merge

import (
	"fmt"

	"github.com/blkops/snapmerge/pkg/blockdev"
	"github.com/blkops/snapmerge/pkg/bufpool"
	"github.com/blkops/snapmerge/pkg/cow"
	"github.com/blkops/snapmerge/pkg/metrics"
	"github.com/blkops/snapmerge/pkg/scratch"

	"github.com/blkops/snapmerge/internal/logger"
)

// Engine resolves bounded windows of COW operations into the scratch
// region ahead of merge application.
//
// One Engine serves one merge attempt. Its window state (ops, buffer map,
// block count) is published to the coordinator through accessors; the
// handshake in Coordinator serializes access, so the accessors are only
// valid between a ReadAheadIOCompleted call and the next acknowledgment.
type Engine struct {
	base     *blockdev.Device
	payloads cow.PayloadReader
	region   *scratch.Region
	pool     *bufpool.Pool
	metrics  *metrics.Metrics

	windowOps []cow.Operation
	bufferMap map[uint64][]byte
	windowSeq uint64
	endPos    int
}

// NewEngine creates an engine over the given collaborators. metrics may be
// nil; pool may be nil for an unpooled engine.
func NewEngine(base *blockdev.Device, payloads cow.PayloadReader, region *scratch.Region,
	pool *bufpool.Pool, m *metrics.Metrics) *Engine {
	if pool == nil {
		pool = bufpool.New(0, 0, 0)
	}
	return &Engine{
		base:     base,
		payloads: payloads,
		region:   region,
		pool:     pool,
		metrics:  m,
	}
}

// BufferMap returns the current window's destination-block to resolved-data
// mapping. The slices point into the mapped scratch region.
func (e *Engine) BufferMap() map[uint64][]byte { return e.bufferMap }

// WindowOps returns the current window's operations in log order.
func (e *Engine) WindowOps() []cow.Operation { return e.windowOps }

// BlocksThisWindow returns the number of blocks resolved into the current
// window.
func (e *Engine) BlocksThisWindow() int { return len(e.windowOps) }

// WindowSeq returns the current window's sequence number.
func (e *Engine) WindowSeq() uint64 { return e.windowSeq }

// WindowEndPos returns the log cursor position just past the current
// window.
func (e *Engine) WindowEndPos() int { return e.endPos }

// Start drives the engine for one merge attempt. When attemptRecovery is
// set, the scratch region is first checked for a committed window with
// sequence startSeq; a hit replays it through the normal completion path,
// a miss falls through to live resolution of the same window.
func (e *Engine) Start(coord Coordinator, cursor *cow.Cursor, startSeq uint64, attemptRecovery bool) error {
	seq := startSeq
	if attemptRecovery {
		recovered, err := e.Recover(coord, cursor, seq)
		if err != nil {
			return err
		}
		if recovered {
			seq++
		}
	}
	return e.run(coord, cursor, seq)
}

// run is the live read-ahead loop.
func (e *Engine) run(coord Coordinator, cursor *cow.Cursor, seq uint64) error {
	for {
		ops := e.collectWindow(cursor)
		if len(ops) == 0 {
			// Log exhausted; no window to signal.
			return nil
		}

		overlap := DetectOverlap(ops)

		buf := e.pool.Get(len(ops) * cow.BlockSize)
		if err := e.resolve(ops, buf); err != nil {
			e.pool.Put(buf)
			coord.ReadAheadIOFailed()
			return fmt.Errorf("%w: %v", ErrReadAheadFailed, err)
		}

		entries := make([]scratch.Entry, len(ops))
		for i, op := range ops {
			entries[i] = scratch.Entry{
				NewBlock:   op.NewBlock,
				FileOffset: e.region.DataOffset() + uint64(i)*cow.BlockSize,
			}
		}

		// The single synchronization point: scratch still holds the
		// previous window until the coordinator releases it.
		if !coord.WaitForMergeReady() {
			e.pool.Put(buf)
			logger.Debug("read-ahead aborted while waiting for merge ready", "seq", seq)
			return nil
		}

		if err := e.region.CommitWindow(seq, entries, buf); err != nil {
			e.pool.Put(buf)
			coord.ReadAheadIOFailed()
			return fmt.Errorf("%w: commit window %d: %v", ErrReadAheadFailed, seq, err)
		}
		e.pool.Put(buf)

		bufferMap := make(map[uint64][]byte, len(entries))
		for _, en := range entries {
			block, err := e.region.BlockAt(en.FileOffset)
			if err != nil {
				coord.ReadAheadIOFailed()
				return fmt.Errorf("%w: %v", ErrReadAheadFailed, err)
			}
			bufferMap[en.NewBlock] = block
		}

		e.windowOps = ops
		e.bufferMap = bufferMap
		e.windowSeq = seq
		e.endPos = cursor.Position()

		e.metrics.WindowProduced(overlap)
		logger.Debug("window resolved", "seq", seq, "blocks", len(ops), "overlap", overlap)

		if !coord.ReadAheadIOCompleted(overlap) {
			return nil
		}
		seq++
	}
}

// collectWindow consumes up to one window's budget of operations from the
// cursor. Control records are consumed but carry no block, so they do not
// count against the budget.
func (e *Engine) collectWindow(cursor *cow.Cursor) []cow.Operation {
	budget := e.region.CapacityBlocks()
	var ops []cow.Operation
	for !cursor.Done() && uint64(len(ops)) < budget {
		op := cursor.Current()
		cursor.Advance()
		if op.IsControl() {
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

// resolve fills buf with one block of post-merge data per op, in op order.
func (e *Engine) resolve(ops []cow.Operation, buf []byte) error {
	for i := 0; i < len(ops); {
		if !ops[i].HasSourceRead() {
			if err := e.resolveLocal(ops[i], buf[i*cow.BlockSize:(i+1)*cow.BlockSize]); err != nil {
				return err
			}
			i++
			continue
		}

		run, xorOps := runLength(ops[i:])
		dst := buf[i*cow.BlockSize : (i+run)*cow.BlockSize]
		if err := e.base.ReadFullAt(dst, int64(sourceByteAddr(ops[i]))); err != nil {
			return err
		}
		e.metrics.BytesRead(len(dst))

		// Fold stored payloads into the raw read for the queued Xor ops.
		for _, j := range xorOps {
			op := ops[i+j]
			payload, err := e.payloads.ReadPayload(op)
			if err != nil {
				return err
			}
			if len(payload) > cow.BlockSize {
				return fmt.Errorf("xor payload for block %d exceeds block size", op.NewBlock)
			}
			xorInto(dst[j*cow.BlockSize:j*cow.BlockSize+len(payload)], payload)
		}
		i += run
	}
	return nil
}

// resolveLocal resolves an op that does not read the base device.
func (e *Engine) resolveLocal(op cow.Operation, dst []byte) error {
	switch op.Kind {
	case cow.KindReplace:
		payload, err := e.payloads.ReadPayload(op)
		if err != nil {
			return err
		}
		copy(dst, payload)
		return nil
	case cow.KindZero:
		clear(dst)
		return nil
	default:
		return fmt.Errorf("op %s cannot be resolved without a source read", op)
	}
}

// runLength returns the length of the longest run of ops whose source
// addresses are arithmetically contiguous, starting at ops[0], along with
// the run-relative indexes of its Xor members.
func runLength(ops []cow.Operation) (int, []int) {
	var xorOps []int
	if ops[0].Kind == cow.KindXor {
		xorOps = append(xorOps, 0)
	}
	start := sourceByteAddr(ops[0])
	run := 1
	for run < len(ops) && ops[run].HasSourceRead() &&
		sourceByteAddr(ops[run]) == start+uint64(run)*cow.BlockSize {
		if ops[run].Kind == cow.KindXor {
			xorOps = append(xorOps, run)
		}
		run++
	}
	return run, xorOps
}

// sourceByteAddr normalizes an op's source to a byte address. Copy sources
// are block indexes; Xor sources are already byte addresses.
func sourceByteAddr(op cow.Operation) uint64 {
	if op.Kind == cow.KindXor {
		return op.Source
	}
	return op.Source * cow.BlockSize
}

func xorInto(dst, src []byte) {
	for i := range src {
		dst[i] ^= src[i]
	}
}
