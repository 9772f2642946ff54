package merge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/blkops/snapmerge/internal/logger"
	"github.com/blkops/snapmerge/pkg/blockdev"
	"github.com/blkops/snapmerge/pkg/bufpool"
	"github.com/blkops/snapmerge/pkg/cow"
	"github.com/blkops/snapmerge/pkg/metrics"
	"github.com/blkops/snapmerge/pkg/scratch"
)

// Options configures a Merger.
type Options struct {
	// Log is the ordered COW operation log to apply.
	Log *cow.Log

	// Payloads resolves operation payload references.
	Payloads cow.PayloadReader

	// Base is the device merged in place. Must be opened read-write.
	Base *blockdev.Device

	// ScratchPath is the scratch region file. It persists across
	// restarts of the same merge and is the basis of crash recovery.
	ScratchPath string

	// ScratchDataSize bounds one window's resolved data, in bytes.
	// Must be a nonzero multiple of the block size.
	ScratchDataSize uint64

	// CheckpointPath is the durable progress file.
	CheckpointPath string

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Pool is optional; a default pool is created when nil.
	Pool *bufpool.Pool
}

// Merger owns one resumable merge: it runs the read-ahead engine in a
// worker goroutine, applies resolved windows to the base device strictly
// in log order, and checkpoints after every applied window.
//
// Merger implements Coordinator. The handshake gives the engine exactly
// one window of prefetch slack: scratch is released for window N+1 only
// after window N is applied and checkpointed.
type Merger struct {
	log      *cow.Log
	payloads cow.PayloadReader
	base     *blockdev.Device
	region   *scratch.Region
	engine   *Engine
	metrics  *metrics.Metrics

	checkpointPath  string
	session         uuid.UUID
	startSeq        uint64
	startPos        int
	attemptRecovery bool

	ready     chan bool
	windows   chan windowMsg
	abort     chan struct{}
	abortOnce sync.Once
	started   atomic.Bool

	windowBlocks atomic.Int64
	totalBlocks  atomic.Int64
}

// windowMsg carries one handed-off window from the engine goroutine to the
// apply loop. The buffer map slices point into the mapped scratch region
// and stay valid until the next readiness acknowledgment.
type windowMsg struct {
	ops     []cow.Operation
	bufmap  map[uint64][]byte
	seq     uint64
	endPos  int
	overlap bool
	failed  bool
}

// NewMerger prepares a merge, resuming from an existing checkpoint when
// one is present. The scratch region is opened for recovery only when its
// session matches the checkpoint; otherwise a fresh region is created.
func NewMerger(opts Options) (*Merger, error) {
	if opts.Log == nil || opts.Payloads == nil || opts.Base == nil {
		return nil, fmt.Errorf("log, payloads, and base device are required")
	}

	m := &Merger{
		log:            opts.Log,
		payloads:       opts.Payloads,
		base:           opts.Base,
		metrics:        opts.Metrics,
		checkpointPath: opts.CheckpointPath,
		ready:          make(chan bool, 1),
		windows:        make(chan windowMsg),
		abort:          make(chan struct{}),
	}

	cp, err := LoadCheckpoint(opts.CheckpointPath)
	if err != nil {
		return nil, err
	}

	if cp != nil {
		if cp.AppliedPos > opts.Log.Len() {
			return nil, fmt.Errorf("checkpoint position %d past log end %d", cp.AppliedPos, opts.Log.Len())
		}
		m.session = cp.Session
		m.startSeq = cp.AppliedSeq + 1
		m.startPos = cp.AppliedPos

		region, err := scratch.Open(opts.ScratchPath)
		switch {
		case err == nil && region.Session() == cp.Session:
			m.region = region
			m.attemptRecovery = true
			logger.Info("resuming merge",
				"session", cp.Session, "applied_seq", cp.AppliedSeq, "pos", cp.AppliedPos)
		default:
			if err == nil {
				// Scratch from some other merge; its contents are
				// not usable for recovery.
				region.Close()
				logger.Warn("discarding scratch state", "error", ErrSessionMismatch)
			} else {
				logger.Warn("scratch region unusable, starting window fresh", "error", err)
			}
			m.region, err = scratch.Create(opts.ScratchPath, opts.ScratchDataSize, cp.Session)
			if err != nil {
				return nil, err
			}
		}
	} else {
		m.session = uuid.New()
		m.startSeq = 1
		m.startPos = 0

		m.region, err = scratch.Create(opts.ScratchPath, opts.ScratchDataSize, m.session)
		if err != nil {
			return nil, err
		}

		cp = &Checkpoint{Session: m.session}
		if err := cp.Save(opts.CheckpointPath); err != nil {
			m.region.Close()
			return nil, err
		}
		logger.Info("starting merge", "session", m.session, "ops", opts.Log.Len())
	}

	m.engine = NewEngine(opts.Base, opts.Payloads, m.region, opts.Pool, opts.Metrics)
	return m, nil
}

// Merge runs the merge to completion. It returns nil once every operation
// in the log has been applied and checkpointed, ErrAborted if ctx is
// cancelled, and the engine's failure otherwise. Merge may be called only
// once per Merger; relaunching a failed merge means constructing a new
// Merger, which re-enters through crash recovery.
func (m *Merger) Merge(ctx context.Context) error {
	if m.started.Swap(true) {
		return fmt.Errorf("merge already run for this session")
	}

	m.metrics.MergeStarted()
	defer m.metrics.MergeStopped()

	cursor, err := m.log.Cursor(m.startPos)
	if err != nil {
		return err
	}

	// Prime the handshake: scratch holds no live window the apply side
	// still needs, so the first commit may proceed.
	m.ready <- true

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.engine.Start(m, cursor, m.startSeq, m.attemptRecovery)
	}()

	for {
		select {
		case <-ctx.Done():
			m.abortOnce.Do(func() { close(m.abort) })
			<-errCh // engine exits promptly without further scratch writes
			logger.Info("merge aborted", "session", m.session)
			return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())

		case msg := <-m.windows:
			if msg.failed {
				err := <-errCh
				if err == nil {
					err = ErrReadAheadFailed
				}
				m.metrics.MergeFailed()
				logger.Error("merge attempt failed", "session", m.session, "error", err)
				return err
			}
			if err := m.applyWindow(msg); err != nil {
				m.abortOnce.Do(func() { close(m.abort) })
				<-errCh
				m.metrics.MergeFailed()
				return err
			}
			// Release scratch for the next window.
			select {
			case m.ready <- true:
			case <-m.abort:
			}

		case err := <-errCh:
			if err != nil {
				m.metrics.MergeFailed()
				return err
			}
			logger.Info("merge complete",
				"session", m.session, "blocks", m.totalBlocks.Load())
			return nil
		}
	}
}

// applyWindow writes one resolved window to the base device in op order,
// syncs it, and checkpoints.
func (m *Merger) applyWindow(msg windowMsg) error {
	for _, op := range msg.ops {
		data, ok := msg.bufmap[op.NewBlock]
		if !ok {
			return fmt.Errorf("window %d: no resolved data for block %d", msg.seq, op.NewBlock)
		}
		if err := m.base.WriteBlockAt(data, op.NewBlock); err != nil {
			return fmt.Errorf("window %d: %w", msg.seq, err)
		}
	}
	if err := m.base.Sync(); err != nil {
		return fmt.Errorf("window %d: sync base: %w", msg.seq, err)
	}

	cp := &Checkpoint{Session: m.session, AppliedSeq: msg.seq, AppliedPos: msg.endPos}
	if err := cp.Save(m.checkpointPath); err != nil {
		return fmt.Errorf("window %d: %w", msg.seq, err)
	}

	m.windowBlocks.Store(int64(len(msg.ops)))
	m.totalBlocks.Add(int64(len(msg.ops)))
	m.metrics.BlocksMerged(len(msg.ops))

	logger.Debug("window applied",
		"seq", msg.seq, "blocks", len(msg.ops), "overlap", msg.overlap)
	return nil
}

// WaitForMergeReady implements Coordinator.
func (m *Merger) WaitForMergeReady() bool {
	select {
	case v := <-m.ready:
		return v
	case <-m.abort:
		return false
	}
}

// ReadAheadIOCompleted implements Coordinator.
func (m *Merger) ReadAheadIOCompleted(overlap bool) bool {
	msg := windowMsg{
		ops:     m.engine.WindowOps(),
		bufmap:  m.engine.BufferMap(),
		seq:     m.engine.WindowSeq(),
		endPos:  m.engine.WindowEndPos(),
		overlap: overlap,
	}
	select {
	case m.windows <- msg:
		return true
	case <-m.abort:
		return false
	}
}

// ReadAheadIOFailed implements Coordinator.
func (m *Merger) ReadAheadIOFailed() {
	select {
	case m.windows <- windowMsg{failed: true}:
	case <-m.abort:
	}
}

// BlocksMergedThisWindow returns the block count of the most recently
// applied window.
func (m *Merger) BlocksMergedThisWindow() int {
	return int(m.windowBlocks.Load())
}

// TotalBlocksMerged returns the cumulative applied-block count for this
// process's merge attempt.
func (m *Merger) TotalBlocksMerged() int {
	return int(m.totalBlocks.Load())
}

// Session returns the merge session identity.
func (m *Merger) Session() uuid.UUID {
	return m.session
}

// Close releases the scratch region mapping.
func (m *Merger) Close() error {
	return m.region.Close()
}

var _ Coordinator = (*Merger)(nil)
