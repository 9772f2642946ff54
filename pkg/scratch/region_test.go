package scratch

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/blkops/snapmerge/pkg/cow"
)

func newTestRegion(t *testing.T, blocks uint64) (*Region, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scratch.dat")
	r, err := Create(path, blocks*cow.BlockSize, uuid.New())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, path
}

func windowData(blocks int, seed byte) []byte {
	data := make([]byte, blocks*cow.BlockSize)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return data
}

func entriesFor(r *Region, blocks []uint64) []Entry {
	entries := make([]Entry, len(blocks))
	for i, b := range blocks {
		entries[i] = Entry{NewBlock: b, FileOffset: r.DataOffset() + uint64(i)*cow.BlockSize}
	}
	return entries
}

func TestCommitAndReadBack(t *testing.T) {
	r, path := newTestRegion(t, 8)

	if r.WindowSeq() != 0 {
		t.Fatalf("fresh region WindowSeq = %d, want 0", r.WindowSeq())
	}

	blocks := []uint64{12, 7, 0, 99}
	data := windowData(len(blocks), 3)
	if err := r.CommitWindow(1, entriesFor(r, blocks), data); err != nil {
		t.Fatalf("CommitWindow() error = %v", err)
	}
	if r.WindowSeq() != 1 {
		t.Fatalf("WindowSeq = %d, want 1", r.WindowSeq())
	}

	// Reopen from disk and verify the window survived.
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	r2, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r2.Close()

	if r2.WindowSeq() != 1 {
		t.Fatalf("reopened WindowSeq = %d, want 1", r2.WindowSeq())
	}

	entries, err := r2.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != len(blocks) {
		t.Fatalf("got %d entries, want %d", len(entries), len(blocks))
	}
	for i, e := range entries {
		if e.NewBlock != blocks[i] {
			t.Errorf("entry %d: NewBlock = %d, want %d", i, e.NewBlock, blocks[i])
		}
		got, err := r2.BlockAt(e.FileOffset)
		if err != nil {
			t.Fatalf("BlockAt(%d) error = %v", e.FileOffset, err)
		}
		want := data[i*cow.BlockSize : (i+1)*cow.BlockSize]
		if !bytes.Equal(got, want) {
			t.Errorf("entry %d: data mismatch", i)
		}
	}
}

func TestRecommitReplacesWindow(t *testing.T) {
	r, _ := newTestRegion(t, 4)

	if err := r.CommitWindow(1, entriesFor(r, []uint64{1, 2, 3}), windowData(3, 0)); err != nil {
		t.Fatal(err)
	}
	if err := r.CommitWindow(2, entriesFor(r, []uint64{10}), windowData(1, 9)); err != nil {
		t.Fatal(err)
	}

	entries, err := r.ReadEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].NewBlock != 10 {
		t.Fatalf("entries after recommit = %+v, want single block 10", entries)
	}
	if r.WindowSeq() != 2 {
		t.Errorf("WindowSeq = %d, want 2", r.WindowSeq())
	}
}

func TestCommitValidation(t *testing.T) {
	r, _ := newTestRegion(t, 2)

	// Oversized window.
	err := r.CommitWindow(1, entriesFor(r, []uint64{1, 2, 3}), windowData(3, 0))
	if err == nil {
		t.Error("oversized window accepted")
	}

	// Entry/data mismatch.
	err = r.CommitWindow(1, entriesFor(r, []uint64{1}), windowData(2, 0))
	if err == nil {
		t.Error("mismatched entry count accepted")
	}

	// Zero sequence is reserved.
	err = r.CommitWindow(0, entriesFor(r, []uint64{1}), windowData(1, 0))
	if err == nil {
		t.Error("zero sequence accepted")
	}
}

func TestSessionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch.dat")
	session := uuid.New()

	r, err := Create(path, 2*cow.BlockSize, session)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()

	if r2.Session() != session {
		t.Errorf("Session = %s, want %s", r2.Session(), session)
	}
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	r, path := newTestRegion(t, 2)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	// Stomp the magic.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("XXXX"), 0); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := Open(path); err == nil {
		t.Error("corrupt header accepted")
	}
}
