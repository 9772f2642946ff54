package cow

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is a plain YAML description of a COW log, used by the CLI to
// drive merges over image files. It is a tooling format for this project,
// unrelated to any on-disk COW container encoding.
//
// Example:
//
//	ops:
//	  - kind: copy
//	    new_block: 10
//	    source_block: 2
//	  - kind: xor
//	    new_block: 5
//	    source_block: 3
//	    source_offset: 5
//	    payload_file: delta.bin
//	  - kind: replace
//	    new_block: 7
//	    payload_file: block7.bin
//	  - kind: zero
//	    new_block: 8
type Manifest struct {
	Ops []ManifestOp `yaml:"ops"`
}

// ManifestOp is one operation entry of a Manifest.
type ManifestOp struct {
	Kind         string `yaml:"kind"`
	NewBlock     uint64 `yaml:"new_block"`
	SourceBlock  uint64 `yaml:"source_block"`
	SourceOffset uint64 `yaml:"source_offset"`
	Label        uint64 `yaml:"label"`
	PayloadFile  string `yaml:"payload_file"`
	PayloadHex   string `yaml:"payload_hex"`
}

// LoadManifest parses a manifest file and materializes the log plus an
// in-memory payload source. Payload file paths are resolved relative to
// the manifest's directory.
func LoadManifest(path string) (*Log, *MemoryPayloadSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}

	dir := filepath.Dir(path)
	payloads := NewMemoryPayloadSource()
	ops := make([]Operation, 0, len(m.Ops))

	for i, mo := range m.Ops {
		op, err := mo.toOperation(dir, payloads)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest op %d: %w", i, err)
		}
		ops = append(ops, op)
	}

	log, err := NewLog(ops)
	if err != nil {
		return nil, nil, err
	}
	return log, payloads, nil
}

func (mo ManifestOp) toOperation(dir string, payloads *MemoryPayloadSource) (Operation, error) {
	op := Operation{NewBlock: mo.NewBlock}

	switch mo.Kind {
	case "copy":
		op.Kind = KindCopy
		op.Source = mo.SourceBlock
	case "xor":
		op.Kind = KindXor
		if mo.SourceOffset >= BlockSize {
			return Operation{}, fmt.Errorf("source_offset %d exceeds block size", mo.SourceOffset)
		}
		op.Source = mo.SourceBlock*BlockSize + mo.SourceOffset
	case "replace":
		op.Kind = KindReplace
	case "zero":
		op.Kind = KindZero
	case "label":
		op.Kind = KindLabel
		op.Source = mo.Label
	default:
		return Operation{}, fmt.Errorf("unknown kind %q", mo.Kind)
	}

	data, err := mo.payloadBytes(dir)
	if err != nil {
		return Operation{}, err
	}
	if data != nil {
		op.PayloadRef = payloads.Put(data)
		op.PayloadLen = uint32(len(data))
	}

	if op.Kind == KindXor && data == nil {
		return Operation{}, fmt.Errorf("xor op requires a payload")
	}
	if op.Kind == KindReplace && data == nil {
		return Operation{}, fmt.Errorf("replace op requires a payload")
	}

	return op, nil
}

func (mo ManifestOp) payloadBytes(dir string) ([]byte, error) {
	switch {
	case mo.PayloadFile != "" && mo.PayloadHex != "":
		return nil, fmt.Errorf("payload_file and payload_hex are mutually exclusive")
	case mo.PayloadFile != "":
		p := mo.PayloadFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return data, nil
	case mo.PayloadHex != "":
		data, err := hex.DecodeString(mo.PayloadHex)
		if err != nil {
			return nil, fmt.Errorf("decode payload_hex: %w", err)
		}
		return data, nil
	default:
		return nil, nil
	}
}
