// Package blockdev provides block-granular access to base devices and
// device-backing image files.
//
// The merge engine addresses everything in whole blocks; this package owns
// the translation to byte offsets and guarantees full-length reads and
// writes (a short read is an error, never a partial result).
package blockdev

import (
	"errors"
	"fmt"
	"os"

	"github.com/blkops/snapmerge/pkg/cow"
)

// ErrOutOfRange indicates a block access past the end of the device.
var ErrOutOfRange = errors.New("block access out of device range")

// Device is a block-addressable view over a file or block device.
type Device struct {
	f        *os.File
	size     int64
	writable bool
}

// OpenRead opens a device read-only.
func OpenRead(path string) (*Device, error) {
	return open(path, os.O_RDONLY, false)
}

// OpenReadWrite opens a device for in-place merging.
func OpenReadWrite(path string) (*Device, error) {
	return open(path, os.O_RDWR, true)
}

func open(path string, flag int, writable bool) (*Device, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat device: %w", err)
	}
	return &Device{f: f, size: info.Size(), writable: writable}, nil
}

// Size returns the device size in bytes.
func (d *Device) Size() int64 {
	return d.size
}

// Blocks returns the number of whole blocks on the device.
func (d *Device) Blocks() uint64 {
	return uint64(d.size) / cow.BlockSize
}

// ReadBlocksAt fills buf with data starting at the given block index.
// len(buf) must be a multiple of the block size. The read is all-or-nothing.
func (d *Device) ReadBlocksAt(buf []byte, block uint64) error {
	if len(buf)%cow.BlockSize != 0 {
		return fmt.Errorf("read length %d not block-aligned", len(buf))
	}
	off := int64(block) * cow.BlockSize
	if off+int64(len(buf)) > d.size {
		return fmt.Errorf("%w: blocks [%d, %d) of %d", ErrOutOfRange,
			block, block+uint64(len(buf))/cow.BlockSize, d.Blocks())
	}
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return fmt.Errorf("read %d bytes at block %d: %w", len(buf), block, err)
	}
	return nil
}

// ReadFullAt fills buf from the given byte offset. Xor source addresses
// carry an intra-block offset, so unlike ReadBlocksAt neither the offset
// nor the length needs to be block-aligned. The read is all-or-nothing.
func (d *Device) ReadFullAt(buf []byte, off int64) error {
	if off < 0 || off+int64(len(buf)) > d.size {
		return fmt.Errorf("%w: bytes [%d, %d) of %d", ErrOutOfRange, off, off+int64(len(buf)), d.size)
	}
	if _, err := d.f.ReadAt(buf, off); err != nil {
		return fmt.Errorf("read %d bytes at offset %d: %w", len(buf), off, err)
	}
	return nil
}

// WriteBlockAt writes one block of data at the given block index.
func (d *Device) WriteBlockAt(data []byte, block uint64) error {
	if !d.writable {
		return fmt.Errorf("device opened read-only")
	}
	if len(data) != cow.BlockSize {
		return fmt.Errorf("write length %d, want %d", len(data), cow.BlockSize)
	}
	off := int64(block) * cow.BlockSize
	if off+cow.BlockSize > d.size {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, block, d.Blocks())
	}
	if _, err := d.f.WriteAt(data, off); err != nil {
		return fmt.Errorf("write block %d: %w", block, err)
	}
	return nil
}

// Sync flushes written data to stable storage.
func (d *Device) Sync() error {
	return d.f.Sync()
}

// Close closes the underlying file.
func (d *Device) Close() error {
	return d.f.Close()
}
