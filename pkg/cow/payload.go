package cow

import (
	"errors"
	"fmt"
)

// ErrPayloadNotFound indicates an operation whose payload reference does not
// resolve to stored payload bytes.
var ErrPayloadNotFound = errors.New("payload not found")

// PayloadReader resolves an operation's payload reference into bytes.
// The COW container decoding (and any decompression) lives behind this
// interface; the merge engine never sees the container format.
type PayloadReader interface {
	ReadPayload(op Operation) ([]byte, error)
}

// MemoryPayloadSource is a PayloadReader over payloads held in memory,
// keyed by the operation's PayloadRef. Used by the manifest loader and
// throughout the tests.
type MemoryPayloadSource struct {
	payloads map[uint64][]byte
}

// NewMemoryPayloadSource creates an empty in-memory payload source.
func NewMemoryPayloadSource() *MemoryPayloadSource {
	return &MemoryPayloadSource{payloads: make(map[uint64][]byte)}
}

// Put stores payload bytes and returns the reference to address them with.
func (s *MemoryPayloadSource) Put(data []byte) uint64 {
	ref := uint64(len(s.payloads)) + 1 // ref 0 is reserved for "no payload"
	s.payloads[ref] = data
	return ref
}

// ReadPayload implements PayloadReader.
func (s *MemoryPayloadSource) ReadPayload(op Operation) ([]byte, error) {
	data, ok := s.payloads[op.PayloadRef]
	if !ok {
		return nil, fmt.Errorf("%w: ref %d (op %s)", ErrPayloadNotFound, op.PayloadRef, op)
	}
	if uint32(len(data)) != op.PayloadLen {
		return nil, fmt.Errorf("payload ref %d: stored %d bytes, op declares %d",
			op.PayloadRef, len(data), op.PayloadLen)
	}
	return data, nil
}

var _ PayloadReader = (*MemoryPayloadSource)(nil)
