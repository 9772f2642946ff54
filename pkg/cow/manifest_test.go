package cow

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	replacement := make([]byte, BlockSize)
	for i := range replacement {
		replacement[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "block7.bin"), replacement, 0644))

	manifest := `
ops:
  - kind: copy
    new_block: 10
    source_block: 2
  - kind: xor
    new_block: 5
    source_block: 3
    source_offset: 5
    payload_hex: ` + hex.EncodeToString([]byte{0xde, 0xad, 0xbe, 0xef}) + `
  - kind: replace
    new_block: 7
    payload_file: block7.bin
  - kind: zero
    new_block: 8
`
	path := filepath.Join(dir, "ops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))

	log, payloads, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, 4, log.Len())

	op := log.At(0)
	require.Equal(t, KindCopy, op.Kind)
	require.Equal(t, uint64(10), op.NewBlock)
	require.Equal(t, uint64(2), op.SourceBlock())

	op = log.At(1)
	require.Equal(t, KindXor, op.Kind)
	require.Equal(t, uint64(3), op.SourceBlock())
	require.Equal(t, uint64(5), op.XorOffset())
	data, err := payloads.ReadPayload(op)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)

	op = log.At(2)
	require.Equal(t, KindReplace, op.Kind)
	data, err = payloads.ReadPayload(op)
	require.NoError(t, err)
	require.Equal(t, replacement, data)

	require.Equal(t, KindZero, log.At(3).Kind)
}

func TestLoadManifestRejectsBadOps(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		manifest string
	}{
		{
			name: "unknown kind",
			manifest: `
ops:
  - kind: teleport
    new_block: 1
`,
		},
		{
			name: "xor without payload",
			manifest: `
ops:
  - kind: xor
    new_block: 1
    source_block: 2
`,
		},
		{
			name: "offset past block size",
			manifest: `
ops:
  - kind: xor
    new_block: 1
    source_block: 2
    source_offset: 4096
    payload_hex: ff
`,
		},
		{
			name: "replace with short payload",
			manifest: `
ops:
  - kind: replace
    new_block: 1
    payload_hex: ffff
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.manifest), 0644))
			_, _, err := LoadManifest(path)
			require.Error(t, err)
		})
	}
}
