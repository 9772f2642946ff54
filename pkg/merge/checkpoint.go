package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Checkpoint records durable merge progress: every window up to and
// including AppliedSeq has been fully applied to the base device, and the
// next window starts at log position AppliedPos.
//
// The session UUID binds the checkpoint to a scratch region; a mismatch
// means the scratch belongs to a different merge and must not be trusted
// for recovery.
type Checkpoint struct {
	Session    uuid.UUID `json:"session"`
	AppliedSeq uint64    `json:"applied_seq"`
	AppliedPos int       `json:"applied_pos"`
}

// LoadCheckpoint reads a checkpoint file. A missing file is not an error;
// it returns (nil, nil) and means no merge has started.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically so a crash mid-write leaves the
// previous checkpoint intact.
func (cp *Checkpoint) Save(path string) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
