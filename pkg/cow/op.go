// Package cow defines the data model for copy-on-write operation logs.
//
// A COW log is an ordered, replayable sequence of block-level operations
// that, applied in order to a base device, produce the post-update content.
// Decoding the on-disk COW container into this model is a collaborator
// concern; this package only defines the operations, the log, and the
// cursor the merge engine consumes.
package cow

import (
	"errors"
	"fmt"
)

// BlockSize is the fixed addressing granularity for all operations.
const BlockSize = 4096

// OpKind identifies the kind of a COW operation.
type OpKind uint8

const (
	// KindCopy copies the source block to the destination block.
	KindCopy OpKind = iota

	// KindXor XORs the payload against source data read at a byte address
	// that may carry a nonzero intra-block offset.
	KindXor

	// KindReplace writes the payload verbatim to the destination block.
	KindReplace

	// KindZero fills the destination block with zeroes.
	KindZero

	// KindLabel is a control record marking a named point in the log.
	KindLabel

	// KindSequence is a control record carrying merge-ordering data.
	KindSequence
)

func (k OpKind) String() string {
	switch k {
	case KindCopy:
		return "copy"
	case KindXor:
		return "xor"
	case KindReplace:
		return "replace"
	case KindZero:
		return "zero"
	case KindLabel:
		return "label"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("opkind(%d)", uint8(k))
	}
}

// ErrMisalignedAddress indicates an address that is not a multiple of
// BlockSize where one is required.
var ErrMisalignedAddress = errors.New("address not block-aligned")

// Operation is a single record of a COW log.
//
// NewBlock is the destination block index. Source is kind-dependent: a block
// index for Copy, and a raw byte address (block*BlockSize + intra-block
// offset) for Xor. Label stores its label value in Source. PayloadRef is an
// opaque handle resolved through a PayloadReader; PayloadLen is the payload
// length in bytes.
type Operation struct {
	Kind       OpKind
	NewBlock   uint64
	Source     uint64
	PayloadRef uint64
	PayloadLen uint32
}

// HasSourceRead reports whether resolving the operation requires reading
// the base device.
func (op Operation) HasSourceRead() bool {
	return op.Kind == KindCopy || op.Kind == KindXor
}

// IsControl reports whether the operation carries no destination write.
func (op Operation) IsControl() bool {
	return op.Kind == KindLabel || op.Kind == KindSequence
}

// SourceBlock returns the normalized source block index. For Xor the raw
// byte address is truncated to its containing block.
func (op Operation) SourceBlock() uint64 {
	if op.Kind == KindXor {
		return op.Source / BlockSize
	}
	return op.Source
}

// XorOffset returns the intra-block byte offset of an Xor source address.
// Zero for every other kind.
func (op Operation) XorOffset() uint64 {
	if op.Kind != KindXor {
		return 0
	}
	return op.Source % BlockSize
}

// SpansTwoBlocks reports whether the operation's source access crosses a
// block boundary. Only an Xor with a nonzero intra-block offset does.
func (op Operation) SpansTwoBlocks() bool {
	return op.Kind == KindXor && op.Source%BlockSize != 0
}

// Validate checks the addressing invariants of the operation. All addresses
// must be block-aligned except the Xor source, whose intra-block offset is
// the one sanctioned exception.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindCopy:
		// Source is a block index, not a byte address; any index is valid.
	case KindXor:
		if op.PayloadLen == 0 {
			return fmt.Errorf("xor op for block %d: empty payload", op.NewBlock)
		}
	case KindReplace:
		if op.PayloadLen != BlockSize {
			return fmt.Errorf("replace op for block %d: payload length %d, want %d",
				op.NewBlock, op.PayloadLen, BlockSize)
		}
	case KindZero:
		if op.PayloadLen != 0 {
			return fmt.Errorf("zero op for block %d: unexpected payload", op.NewBlock)
		}
	case KindLabel, KindSequence:
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func (op Operation) String() string {
	switch op.Kind {
	case KindCopy:
		return fmt.Sprintf("copy{block %d <- %d}", op.NewBlock, op.Source)
	case KindXor:
		return fmt.Sprintf("xor{block %d <- addr %d+%d}", op.NewBlock, op.SourceBlock(), op.XorOffset())
	case KindLabel:
		return fmt.Sprintf("label{%d}", op.Source)
	default:
		return fmt.Sprintf("%s{block %d}", op.Kind, op.NewBlock)
	}
}
