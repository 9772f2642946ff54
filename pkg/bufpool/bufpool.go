// Package bufpool provides a tiered buffer pool for read-ahead temporaries.
//
// The read-ahead engine allocates a short-lived buffer per coalesced run and
// per resolved window. Pooling those buffers keeps a steady merge from
// allocating gigabytes of garbage. Three size tiers cover the common cases:
// single blocks, coalesced runs, and whole windows. Requests above the
// largest tier are allocated directly and never pooled.
//
// A Pool is an explicit object handed to its users; there is no package
// global.
package bufpool

import "sync"

// Default size classes, chosen for 4KiB-block workloads.
const (
	// DefaultBlockSize fits one device block.
	DefaultBlockSize = 4 << 10

	// DefaultRunSize fits a typical coalesced read run.
	DefaultRunSize = 256 << 10

	// DefaultWindowSize fits a whole resolved window.
	DefaultWindowSize = 2 << 20
)

// Pool manages byte-slice pools organized by size class. Safe for
// concurrent use.
type Pool struct {
	block      sync.Pool
	run        sync.Pool
	window     sync.Pool
	blockSize  int
	runSize    int
	windowSize int
}

// New creates a pool with the given tier sizes. Zero or negative sizes
// fall back to the defaults.
func New(blockSize, runSize, windowSize int) *Pool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if runSize <= 0 {
		runSize = DefaultRunSize
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	p := &Pool{blockSize: blockSize, runSize: runSize, windowSize: windowSize}
	p.block.New = func() any { b := make([]byte, p.blockSize); return &b }
	p.run.New = func() any { b := make([]byte, p.runSize); return &b }
	p.window.New = func() any { b := make([]byte, p.windowSize); return &b }
	return p
}

// Get returns a slice of exactly the requested length, backed by a pooled
// buffer when the size fits a tier. Callers return it with Put.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= p.blockSize:
		bufPtr = p.block.Get().(*[]byte)
	case size <= p.runSize:
		bufPtr = p.run.Get().(*[]byte)
	case size <= p.windowSize:
		bufPtr = p.window.Get().(*[]byte)
	default:
		// Oversized buffers are not worth keeping around.
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put returns a buffer obtained from Get. Buffers that do not match a tier
// capacity are left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.blockSize:
		p.block.Put(&full)
	case p.runSize:
		p.run.Put(&full)
	case p.windowSize:
		p.window.Put(&full)
	}
}
