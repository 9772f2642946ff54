package merge

import (
	"math/rand"
	"testing"

	"github.com/blkops/snapmerge/pkg/cow"
)

func copyOp(dest, src uint64) cow.Operation {
	return cow.Operation{Kind: cow.KindCopy, NewBlock: dest, Source: src}
}

func TestDetectOverlapChains(t *testing.T) {
	// Increasing chain: every op's source is the next op's destination.
	var increasing []cow.Operation
	for i := uint64(0); i < 16; i++ {
		increasing = append(increasing, copyOp(i, i+1))
	}

	// Decreasing chain.
	var decreasing []cow.Operation
	for i := uint64(16); i > 0; i-- {
		decreasing = append(decreasing, copyOp(i, i-1))
	}

	// Source written by an earlier op.
	chained := []cow.Operation{copyOp(1, 0), copyOp(2, 1)}

	for _, tt := range []struct {
		name string
		ops  []cow.Operation
	}{
		{"increasing copy chain", increasing},
		{"decreasing copy chain", decreasing},
		{"source after dest", chained},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if !DetectOverlap(tt.ops) {
				t.Error("DetectOverlap() = false, want true")
			}
		})
	}
}

func TestDetectOverlapDisjoint(t *testing.T) {
	ops := []cow.Operation{
		copyOp(0, 100),
		copyOp(1, 101),
		{Kind: cow.KindReplace, NewBlock: 2, PayloadLen: cow.BlockSize},
		{Kind: cow.KindZero, NewBlock: 3},
		{Kind: cow.KindXor, NewBlock: 4, Source: 200 * cow.BlockSize, PayloadLen: cow.BlockSize},
	}
	if DetectOverlap(ops) {
		t.Error("DetectOverlap() = true for disjoint ops")
	}
}

func TestDetectOverlapRepeatedDest(t *testing.T) {
	ops := []cow.Operation{
		{Kind: cow.KindZero, NewBlock: 5},
		{Kind: cow.KindReplace, NewBlock: 5, PayloadLen: cow.BlockSize},
	}
	if !DetectOverlap(ops) {
		t.Error("two writes to one block must overlap")
	}
}

func TestDetectOverlapXorSpansTwoBlocks(t *testing.T) {
	// The xor source at block 10 offset 5 also touches block 11.
	ops := []cow.Operation{
		{Kind: cow.KindZero, NewBlock: 11},
		{Kind: cow.KindXor, NewBlock: 20, Source: 10*cow.BlockSize + 5, PayloadLen: cow.BlockSize},
	}
	if !DetectOverlap(ops) {
		t.Error("xor spilling into a written block must overlap")
	}

	// Aligned xor does not touch block 11.
	aligned := []cow.Operation{
		{Kind: cow.KindZero, NewBlock: 11},
		{Kind: cow.KindXor, NewBlock: 20, Source: 10 * cow.BlockSize, PayloadLen: cow.BlockSize},
	}
	if DetectOverlap(aligned) {
		t.Error("aligned xor next to a written block must not overlap")
	}

	// Writing into the spilled-into block after the xor read is also a
	// hazard: the block is in the source set.
	after := []cow.Operation{
		{Kind: cow.KindXor, NewBlock: 20, Source: 10*cow.BlockSize + 5, PayloadLen: cow.BlockSize},
		{Kind: cow.KindZero, NewBlock: 11},
	}
	if !DetectOverlap(after) {
		t.Error("write to a previously read block must overlap")
	}
}

func TestDetectOverlapIgnoresControlOps(t *testing.T) {
	ops := []cow.Operation{
		{Kind: cow.KindLabel, Source: 1},
		copyOp(0, 100),
		{Kind: cow.KindLabel, Source: 2},
	}
	if DetectOverlap(ops) {
		t.Error("control records must not contribute blocks")
	}
}

// Non-overlapping windows must be order-independent: applying the ops in
// any order yields the same final content as log order.
func TestNonOverlappingWindowsAreOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	const blocks = 32
	base := make([]byte, blocks*cow.BlockSize)
	rng.Read(base)

	apply := func(img []byte, ops []cow.Operation) {
		for _, op := range ops {
			dst := img[op.NewBlock*cow.BlockSize : (op.NewBlock+1)*cow.BlockSize]
			switch op.Kind {
			case cow.KindCopy:
				copy(dst, img[op.Source*cow.BlockSize:(op.Source+1)*cow.BlockSize])
			case cow.KindZero:
				clear(dst)
			}
		}
	}

	for trial := 0; trial < 50; trial++ {
		var ops []cow.Operation
		for i := 0; i < 8; i++ {
			dest := uint64(rng.Intn(blocks))
			if rng.Intn(2) == 0 {
				ops = append(ops, copyOp(dest, uint64(rng.Intn(blocks))))
			} else {
				ops = append(ops, cow.Operation{Kind: cow.KindZero, NewBlock: dest})
			}
		}
		if DetectOverlap(ops) {
			continue
		}

		inOrder := append([]byte(nil), base...)
		apply(inOrder, ops)

		shuffled := append([]cow.Operation(nil), ops...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		outOfOrder := append([]byte(nil), base...)
		apply(outOfOrder, shuffled)

		if string(inOrder) != string(outOfOrder) {
			t.Fatalf("trial %d: non-overlapping window was order-dependent", trial)
		}
	}
}
