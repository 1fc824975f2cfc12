// Package layout defines the on-disk structures of the filesystem: the
// superblock, the group descriptor, and the inode descriptor, along with
// their fixed-size little-endian encodings.
package layout

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Build constants shared by every component that reasons about layout.
const (
	// Signature is the magic value stored in every superblock.
	Signature = 0x45524f44 // "DORE" read little-endian, an otherwise arbitrary constant

	// Version is the on-disk format version this package reads and writes.
	Version = 1

	// SectorSize is the device's fixed addressing unit.
	SectorSize = 512

	// SuperblockSector is the fixed sector holding the superblock.
	SuperblockSector = 1

	// InodeDescriptorSize is the fixed size of one on-disk inode descriptor.
	InodeDescriptorSize = 128

	// GroupDescriptorSize is the fixed size of one on-disk group descriptor.
	GroupDescriptorSize = 32

	// DirectPointerCount is the number of direct block pointers held inline
	// in an inode descriptor.
	DirectPointerCount = 12

	// InodeFlagDirectory marks an inode descriptor as a directory.
	InodeFlagDirectory = 0x0001

	// RootInode is the fixed reserved inode number of the root directory.
	RootInode = 1

	// Default tunables, matching the administrative option defaults.
	DefaultBlockSize      = 4096
	DefaultInodeRatio     = 4096
	DefaultCacheBuffers   = 1024
	DefaultReservedBlocks = 16
	DefaultReservedInodes = 16

	// FormatChunkSize bounds one zeroing write during a non-quick format.
	FormatChunkSize = 128 * 1024
)

// superblockSize is the fixed, padded encoded size of a Superblock. It must
// not exceed SectorSize.
const superblockSize = 128

// Superblock is the singleton root record describing the whole filesystem,
// stored at SuperblockSector. The in-memory copy is authoritative while
// mounted; Dirty tracks whether it needs writing back.
type Superblock struct {
	Signature           uint32
	Version             uint32
	LogBlockSize        uint32
	BlockCount          uint32
	BlocksPerGroup      uint32
	GroupCount          uint32
	InodesPerGroup      uint32
	InodeCount          uint32
	CacheBuffers        uint32
	FirstReservedBlock  uint32
	ReservedBlocks      uint32
	GroupdescTableBlock uint32
	ReservedInodes      uint32
	FreeBlockCount      uint32
	FreeInodeCount      uint32
	VolumeID            [16]byte // optional UUID, zero when unused

	// Dirty is in-memory only: it is never encoded to disk.
	Dirty bool
}

// BlockSize returns the block size implied by LogBlockSize.
func (s *Superblock) BlockSize() int64 {
	return 1 << s.LogBlockSize
}

// SetVolumeID stamps a random volume UUID into the superblock.
func (s *Superblock) SetVolumeID() {
	id := uuid.New()
	copy(s.VolumeID[:], id[:])
}

// superblockWire is the exact on-disk byte layout of Superblock, excluding
// the in-memory-only Dirty flag.
type superblockWire struct {
	Signature          uint32
	Version            uint32
	LogBlockSize       uint32
	BlockCount         uint32
	BlocksPerGroup     uint32
	GroupCount         uint32
	InodesPerGroup     uint32
	InodeCount         uint32
	CacheBuffers       uint32
	FirstReservedBlock uint32
	ReservedBlocks      uint32
	GroupdescTableBlock uint32
	ReservedInodes      uint32
	FreeBlockCount     uint32
	FreeInodeCount     uint32
	VolumeID           [16]byte
	_                  [superblockSize - 15*4 - 16]byte
}

// Bytes encodes the superblock into a SectorSize-sized buffer suitable for a
// direct (non-cached) device write.
func (s *Superblock) Bytes() []byte {
	wire := superblockWire{
		Signature:           s.Signature,
		Version:             s.Version,
		LogBlockSize:        s.LogBlockSize,
		BlockCount:          s.BlockCount,
		BlocksPerGroup:      s.BlocksPerGroup,
		GroupCount:          s.GroupCount,
		InodesPerGroup:      s.InodesPerGroup,
		InodeCount:          s.InodeCount,
		CacheBuffers:        s.CacheBuffers,
		FirstReservedBlock:  s.FirstReservedBlock,
		ReservedBlocks:      s.ReservedBlocks,
		GroupdescTableBlock: s.GroupdescTableBlock,
		ReservedInodes:      s.ReservedInodes,
		FreeBlockCount:      s.FreeBlockCount,
		FreeInodeCount:      s.FreeInodeCount,
		VolumeID:            s.VolumeID,
	}

	buf := new(bytes.Buffer)
	buf.Grow(SectorSize)
	_ = binary.Write(buf, binary.LittleEndian, &wire)

	out := make([]byte, SectorSize)
	copy(out, buf.Bytes())
	return out
}

// ParseSuperblock decodes a SectorSize-sized buffer read from
// SuperblockSector into a Superblock.
func ParseSuperblock(data []byte) (*Superblock, error) {
	if len(data) < superblockSize {
		return nil, fmt.Errorf("layout: superblock buffer too short: %d bytes", len(data))
	}

	var wire superblockWire
	if err := binary.Read(bytes.NewReader(data[:superblockSize]), binary.LittleEndian, &wire); err != nil {
		return nil, fmt.Errorf("layout: decoding superblock: %w", err)
	}

	return &Superblock{
		Signature:           wire.Signature,
		Version:             wire.Version,
		LogBlockSize:        wire.LogBlockSize,
		BlockCount:          wire.BlockCount,
		BlocksPerGroup:      wire.BlocksPerGroup,
		GroupCount:          wire.GroupCount,
		InodesPerGroup:      wire.InodesPerGroup,
		InodeCount:          wire.InodeCount,
		CacheBuffers:        wire.CacheBuffers,
		FirstReservedBlock:  wire.FirstReservedBlock,
		ReservedBlocks:      wire.ReservedBlocks,
		GroupdescTableBlock: wire.GroupdescTableBlock,
		ReservedInodes:      wire.ReservedInodes,
		FreeBlockCount:      wire.FreeBlockCount,
		FreeInodeCount:      wire.FreeInodeCount,
		VolumeID:            wire.VolumeID,
	}, nil
}

// GroupDescriptor is the persistent per-group metadata record: bitmap and
// inode table locations plus free counts. GroupDescriptorSize entries are
// packed sequentially starting at the superblock's groupdesc table block.
type GroupDescriptor struct {
	BlockBitmapBlock uint32
	InodeBitmapBlock uint32
	InodeTableBlock  uint32
	BlockCount       uint32
	FreeBlockCount   uint32
	FreeInodeCount   uint32
	_                [GroupDescriptorSize - 6*4]byte
}

// ParseGroupDescriptor decodes one descriptor from a GroupDescriptorSize
// slice of a group-descriptor-table block.
func ParseGroupDescriptor(data []byte) (*GroupDescriptor, error) {
	if len(data) < GroupDescriptorSize {
		return nil, fmt.Errorf("layout: group descriptor slice too short: %d bytes", len(data))
	}
	var gd GroupDescriptor
	if err := binary.Read(bytes.NewReader(data[:GroupDescriptorSize]), binary.LittleEndian, &gd); err != nil {
		return nil, fmt.Errorf("layout: decoding group descriptor: %w", err)
	}
	return &gd, nil
}

// PutGroupDescriptor encodes gd into a GroupDescriptorSize-sized slice of
// dst, the inverse of ParseGroupDescriptor.
func PutGroupDescriptor(dst []byte, gd *GroupDescriptor) error {
	if len(dst) < GroupDescriptorSize {
		return fmt.Errorf("layout: group descriptor destination too short: %d bytes", len(dst))
	}
	buf := new(bytes.Buffer)
	buf.Grow(GroupDescriptorSize)
	if err := binary.Write(buf, binary.LittleEndian, gd); err != nil {
		return fmt.Errorf("layout: encoding group descriptor: %w", err)
	}
	copy(dst, buf.Bytes())
	return nil
}

// InodeDescriptor is the fixed-size record representing one file or
// directory. Its block pointers form a tree whose fan-out is governed by
// log_blkptrs_per_block = log_block_size - 2 (computed outside this
// package, where the block size is known).
type InodeDescriptor struct {
	Flags           uint32
	LinkCount       uint32
	Ctime           uint32
	Mtime           uint32
	Size            uint64
	DirectBlocks    [DirectPointerCount]uint32
	IndirectBlock   uint32
	DoubleIndirect  uint32
	TripleIndirect  uint32
	_               [InodeDescriptorSize - 4*4 - 8 - DirectPointerCount*4 - 3*4]byte
}

// IsDirectory reports whether the directory flag is set.
func (d *InodeDescriptor) IsDirectory() bool {
	return d.Flags&InodeFlagDirectory != 0
}

// IsFree reports whether the descriptor represents a free inode: the
// invariant is link count zero (the bitmap bit is tracked separately by the
// allocator).
func (d *InodeDescriptor) IsFree() bool {
	return d.LinkCount == 0
}

// ParseInodeDescriptor decodes one descriptor from an InodeDescriptorSize
// slice of an inode table block.
func ParseInodeDescriptor(data []byte) (*InodeDescriptor, error) {
	if len(data) < InodeDescriptorSize {
		return nil, fmt.Errorf("layout: inode descriptor slice too short: %d bytes", len(data))
	}
	var d InodeDescriptor
	if err := binary.Read(bytes.NewReader(data[:InodeDescriptorSize]), binary.LittleEndian, &d); err != nil {
		return nil, fmt.Errorf("layout: decoding inode descriptor: %w", err)
	}
	return &d, nil
}

// PutInodeDescriptor encodes d into an InodeDescriptorSize-sized slice of
// dst, the inverse of ParseInodeDescriptor.
func PutInodeDescriptor(dst []byte, d *InodeDescriptor) error {
	if len(dst) < InodeDescriptorSize {
		return fmt.Errorf("layout: inode descriptor destination too short: %d bytes", len(dst))
	}
	buf := new(bytes.Buffer)
	buf.Grow(InodeDescriptorSize)
	if err := binary.Write(buf, binary.LittleEndian, d); err != nil {
		return fmt.Errorf("layout: encoding inode descriptor: %w", err)
	}
	copy(dst, buf.Bytes())
	return nil
}

// Log2 returns floor(log2(n)), matching the original superblock routine's
// block-size-to-shift conversion (n is expected to be a power of two).
func Log2(n uint32) uint32 {
	var l uint32
	n >>= 1
	for n != 0 {
		l++
		n >>= 1
	}
	return l
}

