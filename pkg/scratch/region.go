// Package scratch implements the persistent staging region for crash-safe
// merging.
//
// The region is a memory-mapped file with a fixed layout:
//
//	Header (64 bytes):
//	  - Magic: "SMRG" (4 bytes)
//	  - Version: uint16 (2 bytes)
//	  - Reserved: uint16 (2 bytes)
//	  - Session UUID: 16 bytes
//	  - Metadata offset: uint64 (8 bytes)
//	  - Data offset: uint64 (8 bytes)
//	  - Data size: uint64 (8 bytes)
//	  - Window sequence: uint64 (8 bytes), 0 = no committed window
//	  - Reserved: 8 bytes
//
//	Metadata sub-region: packed entries {new_block u64, file_offset u64},
//	terminated by a (0,0) sentinel. One entry per data block plus the
//	sentinel slot.
//
//	Data sub-region: one resolved window of block data, data-size bytes.
//
// The region holds exactly one window at a time. A window is committed by
// writing its data, then its metadata entries and sentinel, and only then
// the window sequence number; the sequence write is the visibility point.
// A crash at any earlier moment leaves the previous sequence number in
// place, so recovery never trusts partially written state.
package scratch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/blkops/snapmerge/pkg/cow"
)

const (
	regionMagic   = "SMRG"
	regionVersion = uint16(1)
	headerSize    = 64

	// EntrySize is the packed size of one metadata entry.
	EntrySize = 16
)

var (
	// ErrCorrupted indicates a scratch file with an invalid header.
	ErrCorrupted = errors.New("scratch region corrupted")

	// ErrVersionMismatch indicates a scratch file written by an
	// incompatible version.
	ErrVersionMismatch = errors.New("scratch region version mismatch")

	// ErrRegionClosed indicates use after Close.
	ErrRegionClosed = errors.New("scratch region closed")

	// ErrWindowTooLarge indicates a window exceeding the data sub-region.
	ErrWindowTooLarge = errors.New("window exceeds scratch capacity")
)

// Entry is one persisted metadata record: a destination block and the
// absolute file offset of its resolved data within the scratch file.
type Entry struct {
	NewBlock   uint64
	FileOffset uint64
}

// Region is a memory-mapped scratch file.
type Region struct {
	path     string
	file     *os.File
	data     []byte // whole mapped file
	session  uuid.UUID
	metaOff  uint64
	dataOff  uint64
	dataSize uint64
	closed   bool
}

// Layout computes the metadata and data offsets for a given data size.
// The data sub-region is aligned to the block size.
func Layout(dataSize uint64) (metaOff, dataOff, fileSize uint64) {
	entries := dataSize/cow.BlockSize + 1 // plus sentinel slot
	metaOff = headerSize
	metaSize := entries * EntrySize
	dataOff = (metaOff + metaSize + cow.BlockSize - 1) / cow.BlockSize * cow.BlockSize
	return metaOff, dataOff, dataOff + dataSize
}

// Create creates (or truncates) a scratch file bound to the given session.
// dataSize must be a nonzero multiple of the block size.
func Create(path string, dataSize uint64, session uuid.UUID) (*Region, error) {
	if dataSize == 0 || dataSize%cow.BlockSize != 0 {
		return nil, fmt.Errorf("data size %d not a multiple of block size", dataSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	metaOff, dataOff, fileSize := Layout(dataSize)
	if err := f.Truncate(int64(fileSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate scratch file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap scratch file: %w", err)
	}

	r := &Region{
		path:     path,
		file:     f,
		data:     data,
		session:  session,
		metaOff:  metaOff,
		dataOff:  dataOff,
		dataSize: dataSize,
	}
	r.writeHeader(0)
	if err := unix.Msync(r.data[:headerSize], unix.MS_SYNC); err != nil {
		r.Close()
		return nil, fmt.Errorf("msync header: %w", err)
	}
	return r, nil
}

// Open maps an existing scratch file and validates its header.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open scratch file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat scratch file: %w", err)
	}
	size := uint64(info.Size())
	if size < headerSize {
		f.Close()
		return nil, ErrCorrupted
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap scratch file: %w", err)
	}

	r := &Region{path: path, file: f, data: data}
	if err := r.readHeader(size); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Region) writeHeader(windowSeq uint64) {
	copy(r.data[0:4], regionMagic)
	binary.LittleEndian.PutUint16(r.data[4:6], regionVersion)
	binary.LittleEndian.PutUint16(r.data[6:8], 0)
	copy(r.data[8:24], r.session[:])
	binary.LittleEndian.PutUint64(r.data[24:32], r.metaOff)
	binary.LittleEndian.PutUint64(r.data[32:40], r.dataOff)
	binary.LittleEndian.PutUint64(r.data[40:48], r.dataSize)
	binary.LittleEndian.PutUint64(r.data[48:56], windowSeq)
}

func (r *Region) readHeader(fileSize uint64) error {
	if string(r.data[0:4]) != regionMagic {
		return ErrCorrupted
	}
	if binary.LittleEndian.Uint16(r.data[4:6]) != regionVersion {
		return ErrVersionMismatch
	}
	copy(r.session[:], r.data[8:24])
	r.metaOff = binary.LittleEndian.Uint64(r.data[24:32])
	r.dataOff = binary.LittleEndian.Uint64(r.data[32:40])
	r.dataSize = binary.LittleEndian.Uint64(r.data[40:48])

	wantMeta, wantData, wantSize := Layout(r.dataSize)
	if r.metaOff != wantMeta || r.dataOff != wantData || fileSize < wantSize {
		return ErrCorrupted
	}
	return nil
}

// Session returns the session UUID the region is bound to.
func (r *Region) Session() uuid.UUID {
	return r.session
}

// WindowSeq returns the sequence number of the committed window, or 0 if
// no window has been committed.
func (r *Region) WindowSeq() uint64 {
	return binary.LittleEndian.Uint64(r.data[48:56])
}

// DataOffset returns the absolute file offset of the data sub-region.
func (r *Region) DataOffset() uint64 {
	return r.dataOff
}

// CapacityBlocks returns how many resolved blocks one window may hold.
func (r *Region) CapacityBlocks() uint64 {
	return r.dataSize / cow.BlockSize
}

// CommitWindow persists a fully resolved window.
//
// The data slice is copied into the data sub-region in one operation, the
// metadata entries and sentinel are written after it, and the window
// sequence number is updated last. Each step is synced before the next so
// a crash leaves either the previous committed window or no committed
// window, never a torn one.
func (r *Region) CommitWindow(seq uint64, entries []Entry, data []byte) error {
	if r.closed {
		return ErrRegionClosed
	}
	if seq == 0 {
		return fmt.Errorf("window sequence must be nonzero")
	}
	if uint64(len(data)) > r.dataSize || uint64(len(entries)) > r.CapacityBlocks() {
		return fmt.Errorf("%w: %d entries, %d bytes", ErrWindowTooLarge, len(entries), len(data))
	}
	if uint64(len(entries))*cow.BlockSize != uint64(len(data)) {
		return fmt.Errorf("entry count %d does not match data length %d", len(entries), len(data))
	}

	// Drop visibility of the previous window before touching its bytes.
	r.writeHeader(0)
	if err := unix.Msync(r.data[:headerSize], unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync header: %w", err)
	}

	copy(r.data[r.dataOff:r.dataOff+uint64(len(data))], data)

	off := r.metaOff
	for _, e := range entries {
		binary.LittleEndian.PutUint64(r.data[off:off+8], e.NewBlock)
		binary.LittleEndian.PutUint64(r.data[off+8:off+16], e.FileOffset)
		off += EntrySize
	}
	// Sentinel.
	binary.LittleEndian.PutUint64(r.data[off:off+8], 0)
	binary.LittleEndian.PutUint64(r.data[off+8:off+16], 0)

	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync window: %w", err)
	}

	r.writeHeader(seq)
	if err := unix.Msync(r.data[:headerSize], unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync header: %w", err)
	}
	return nil
}

// ReadEntries scans the metadata sub-region up to the first sentinel and
// returns the persisted entries of the committed window.
func (r *Region) ReadEntries() ([]Entry, error) {
	if r.closed {
		return nil, ErrRegionClosed
	}

	var entries []Entry
	off := r.metaOff
	for i := uint64(0); i < r.CapacityBlocks()+1; i++ {
		newBlock := binary.LittleEndian.Uint64(r.data[off : off+8])
		fileOff := binary.LittleEndian.Uint64(r.data[off+8 : off+16])
		if newBlock == 0 && fileOff == 0 {
			return entries, nil
		}
		entries = append(entries, Entry{NewBlock: newBlock, FileOffset: fileOff})
		off += EntrySize
	}
	return nil, fmt.Errorf("%w: no sentinel in metadata sub-region", ErrCorrupted)
}

// BlockAt returns the block of resolved data stored at the given absolute
// file offset, as a slice into the mapped region.
func (r *Region) BlockAt(fileOffset uint64) ([]byte, error) {
	if r.closed {
		return nil, ErrRegionClosed
	}
	if fileOffset < r.dataOff || fileOffset+cow.BlockSize > r.dataOff+r.dataSize {
		return nil, fmt.Errorf("%w: file offset %d outside data sub-region", ErrCorrupted, fileOffset)
	}
	return r.data[fileOffset : fileOffset+cow.BlockSize], nil
}

// Close syncs and unmaps the region.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.data != nil {
		_ = unix.Msync(r.data, unix.MS_SYNC)
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		r.data = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close scratch file: %w", err)
		}
		r.file = nil
	}
	return nil
}
