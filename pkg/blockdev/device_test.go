package blockdev

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/blkops/snapmerge/pkg/cow"
)

func makeImage(t *testing.T, blocks int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "base.img")
	data := make([]byte, blocks*cow.BlockSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadBlocksAt(t *testing.T) {
	path := makeImage(t, 8)
	d, err := OpenRead(path)
	if err != nil {
		t.Fatalf("OpenRead() error = %v", err)
	}
	defer d.Close()

	if d.Blocks() != 8 {
		t.Fatalf("Blocks() = %d, want 8", d.Blocks())
	}

	// Coalesced read of three blocks.
	buf := make([]byte, 3*cow.BlockSize)
	if err := d.ReadBlocksAt(buf, 2); err != nil {
		t.Fatalf("ReadBlocksAt() error = %v", err)
	}
	want := make([]byte, 3*cow.BlockSize)
	for i := range want {
		want[i] = byte((2*cow.BlockSize + i) * 7)
	}
	if !bytes.Equal(buf, want) {
		t.Error("read content mismatch")
	}

	// Past the end.
	if err := d.ReadBlocksAt(buf, 6); err == nil {
		t.Error("expected out-of-range error")
	}

	// Misaligned length.
	if err := d.ReadBlocksAt(make([]byte, 100), 0); err == nil {
		t.Error("expected alignment error")
	}
}

func TestWriteBlockAt(t *testing.T) {
	path := makeImage(t, 4)

	d, err := OpenReadWrite(path)
	if err != nil {
		t.Fatalf("OpenReadWrite() error = %v", err)
	}
	defer d.Close()

	block := bytes.Repeat([]byte{0xAB}, cow.BlockSize)
	if err := d.WriteBlockAt(block, 1); err != nil {
		t.Fatalf("WriteBlockAt() error = %v", err)
	}

	got := make([]byte, cow.BlockSize)
	if err := d.ReadBlocksAt(got, 1); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, block) {
		t.Error("written block not read back")
	}

	if err := d.WriteBlockAt(block, 4); err == nil {
		t.Error("expected out-of-range error")
	}

	ro, err := OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if err := ro.WriteBlockAt(block, 0); err == nil {
		t.Error("write on read-only device should fail")
	}
}
