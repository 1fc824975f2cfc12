// Package dfs is the filesystem facade: it translates the administrative
// format/mount/unmount/statfs operations into buffer-cache and allocator
// calls, the way the original core's entry points dispatch into
// create_filesystem, open_filesystem, close_filesystem and
// get_filesystem_status.
package dfs

import (
	"fmt"

	"github.com/mringgaard/dfs/pkg/dfs/alloc"
	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/group"
	"github.com/mringgaard/dfs/pkg/dfs/inode"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

// Filesystem is a mounted instance: it owns the superblock, the pinned
// group-descriptor shadow table, the buffer pool, and the allocator built
// over them.
type Filesystem struct {
	dev  blockdev.Device
	view *blockdev.BlockView

	super  *layout.Superblock
	pool   *bufcache.Pool
	groups *group.Table
	alloc  *alloc.Allocator
	loc    inode.Locator

	geo geometry
}

// geometry holds the values derived from an on-disk superblock at mount
// time. Format computes the same quantities inline from its options.
type geometry struct {
	blockSize           int64
	inodesPerBlock      int64
	groupdescsPerBlock  int64
	groupdescBlocks     int64
	inodeBlocksPerGroup int64
	logBlkptrsPerBlock  int64
}

func deriveGeometry(super *layout.Superblock) geometry {
	bs := super.BlockSize()
	var g geometry
	g.blockSize = bs
	g.inodesPerBlock = bs / layout.InodeDescriptorSize
	g.groupdescsPerBlock = bs / layout.GroupDescriptorSize
	g.groupdescBlocks = divCeil(int64(super.GroupCount)*layout.GroupDescriptorSize, bs)
	g.inodeBlocksPerGroup = divCeil(int64(super.InodesPerGroup)*layout.InodeDescriptorSize, bs)
	g.logBlkptrsPerBlock = int64(super.LogBlockSize) - 2
	return g
}

func divCeil(a, b int64) int64 {
	return (a + b - 1) / b
}

// Statfs is the information returned by Filesystem.Statfs, mirroring the
// administrative get_filesystem_status call.
type Statfs struct {
	BlockSize      int64
	IOSize         int64
	Blocks         int64
	FreeBlocks     int64
	Files          int64
	FreeFiles      int64
	CacheSizeBytes int64
}

// Statfs reports aggregate filesystem usage. It has no side effects.
func (fs *Filesystem) Statfs() Statfs {
	return Statfs{
		BlockSize:      fs.geo.blockSize,
		IOSize:         fs.geo.blockSize,
		Blocks:         int64(fs.super.BlockCount),
		FreeBlocks:     int64(fs.super.FreeBlockCount),
		Files:          int64(fs.super.InodeCount),
		FreeFiles:      int64(fs.super.FreeInodeCount),
		CacheSizeBytes: int64(fs.super.CacheBuffers) * fs.geo.blockSize,
	}
}

// AllocBlock allocates one free data block.
func (fs *Filesystem) AllocBlock() (int64, error) {
	return fs.alloc.AllocBlock()
}

// FreeBlock releases a previously allocated data block.
func (fs *Filesystem) FreeBlock(bno int64) error {
	return fs.alloc.FreeBlock(bno)
}

// AllocInode allocates one free inode number.
func (fs *Filesystem) AllocInode() (int64, error) {
	return fs.alloc.AllocInode()
}

// FreeInode releases a previously allocated inode number.
func (fs *Filesystem) FreeInode(ino int64) error {
	return fs.alloc.FreeInode(ino)
}

// GetInode materialises a handle onto inode ino's descriptor.
func (fs *Filesystem) GetInode(ino int64) (*inode.Handle, error) {
	return inode.Get(fs.pool, fs.groups, fs.loc, ino)
}

// Unmount releases every pinned group-descriptor buffer, flushes and syncs
// the cache, and writes the superblock back if dirty.
func (fs *Filesystem) Unmount() error {
	fs.groups.Close()

	if err := fs.pool.Close(); err != nil {
		return fmt.Errorf("dfs: unmount: %w", err)
	}

	if fs.super.Dirty {
		if err := writeSuperblockDirect(fs.dev, fs.super); err != nil {
			return fmt.Errorf("dfs: unmount: writing superblock: %w", err)
		}
		fs.super.Dirty = false
	}

	return nil
}

// writeSuperblockDirect writes the superblock straight to its fixed sector,
// bypassing the buffer cache. This is the one deliberate unclean-through-
// cache point in the design.
func writeSuperblockDirect(dev blockdev.Device, super *layout.Superblock) error {
	return dev.WriteSectors(super.Bytes(), layout.SuperblockSector)
}

func readSuperblockDirect(dev blockdev.Device) (*layout.Superblock, error) {
	buf := make([]byte, blockdev.SectorSize)
	if err := dev.ReadSectors(buf, layout.SuperblockSector); err != nil {
		return nil, err
	}
	return layout.ParseSuperblock(buf)
}
