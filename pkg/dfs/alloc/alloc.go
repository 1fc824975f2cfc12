// Package alloc implements block and inode allocation: first-fit within a
// group, then across groups in ascending order, using each group's
// first-free hint to avoid rescanning already-full prefixes of a bitmap.
package alloc

import (
	"fmt"

	"github.com/mringgaard/dfs/pkg/dfs/bitmap"
	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/dfserr"
	"github.com/mringgaard/dfs/pkg/dfs/group"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

// Allocator allocates and frees blocks and inodes against a group table and
// the buffer pool backing it. It also keeps the superblock's aggregate free
// counts consistent with the per-group counts.
type Allocator struct {
	pool   *bufcache.Pool
	groups *group.Table
	super  *layout.Superblock

	inodesPerGroup int64
}

// New builds an Allocator over an already-open group table and superblock.
func New(pool *bufcache.Pool, groups *group.Table, super *layout.Superblock, inodesPerGroup int64) *Allocator {
	return &Allocator{pool: pool, groups: groups, super: super, inodesPerGroup: inodesPerGroup}
}

// AllocBlock allocates one free block, returning its absolute block number.
func (a *Allocator) AllocBlock() (int64, error) {
	for g := 0; g < a.groups.Count(); g++ {
		gd, err := a.groups.Descriptor(g)
		if err != nil {
			return 0, err
		}
		if gd.FreeBlockCount == 0 {
			continue
		}

		start := a.groups.FirstFreeBlock(g)
		if start < 0 {
			start = 0
		}

		buf, err := a.pool.Get(int64(gd.BlockBitmapBlock))
		if err != nil {
			return 0, fmt.Errorf("alloc: reading block bitmap for group %d: %w", g, err)
		}

		bm := bitmap.View(buf.Bytes())
		idx := bm.FindFirstFreeFrom(int(start), int(gd.BlockCount))
		if idx < 0 {
			buf.Release()
			continue
		}

		bm.Set(idx)
		buf.MarkDirty()
		buf.Release()

		gd.FreeBlockCount--
		if err := a.groups.Update(g, gd); err != nil {
			return 0, err
		}
		a.groups.SetFirstFreeBlock(g, int64(idx)+1)

		a.super.FreeBlockCount--
		a.super.Dirty = true

		return int64(g)*int64(a.super.BlocksPerGroup) + int64(idx), nil
	}

	return 0, dfserr.ErrNoSpace
}

// FreeBlock releases block bno back to its group's bitmap.
func (a *Allocator) FreeBlock(bno int64) error {
	g := int(bno / int64(a.super.BlocksPerGroup))
	idx := int(bno % int64(a.super.BlocksPerGroup))

	if g < 0 || g >= a.groups.Count() {
		return fmt.Errorf("alloc: block %d is outside any group", bno)
	}

	gd, err := a.groups.Descriptor(g)
	if err != nil {
		return err
	}

	buf, err := a.pool.Get(int64(gd.BlockBitmapBlock))
	if err != nil {
		return fmt.Errorf("alloc: reading block bitmap for group %d: %w", g, err)
	}
	defer buf.Release()

	bm := bitmap.View(buf.Bytes())
	if !bm.Test(idx) {
		return nil
	}
	bm.Clear(idx)
	buf.MarkDirty()

	gd.FreeBlockCount++
	if err := a.groups.Update(g, gd); err != nil {
		return err
	}
	if hint := a.groups.FirstFreeBlock(g); hint < 0 || int64(idx) < hint {
		a.groups.SetFirstFreeBlock(g, int64(idx))
	}

	a.super.FreeBlockCount++
	a.super.Dirty = true

	return nil
}

// AllocInode allocates one free inode, returning its absolute inode number
// (group_index * inodesPerGroup + bit_index).
func (a *Allocator) AllocInode() (int64, error) {
	for g := 0; g < a.groups.Count(); g++ {
		gd, err := a.groups.Descriptor(g)
		if err != nil {
			return 0, err
		}
		if gd.FreeInodeCount == 0 {
			continue
		}

		start := a.groups.FirstFreeInode(g)
		if start < 0 {
			start = 0
		}

		buf, err := a.pool.Get(int64(gd.InodeBitmapBlock))
		if err != nil {
			return 0, fmt.Errorf("alloc: reading inode bitmap for group %d: %w", g, err)
		}

		bm := bitmap.View(buf.Bytes())
		idx := bm.FindFirstFreeFrom(int(start), int(a.inodesPerGroup))
		if idx < 0 {
			buf.Release()
			continue
		}

		bm.Set(idx)
		buf.MarkDirty()
		buf.Release()

		gd.FreeInodeCount--
		if err := a.groups.Update(g, gd); err != nil {
			return 0, err
		}
		a.groups.SetFirstFreeInode(g, int64(idx)+1)

		a.super.FreeInodeCount--
		a.super.Dirty = true

		return int64(g)*a.inodesPerGroup + int64(idx), nil
	}

	return 0, dfserr.ErrNoSpace
}

// FreeInode releases inode ino back to its group's bitmap.
func (a *Allocator) FreeInode(ino int64) error {
	g := int(ino / a.inodesPerGroup)
	idx := int(ino % a.inodesPerGroup)

	if g < 0 || g >= a.groups.Count() {
		return fmt.Errorf("alloc: inode %d is outside any group", ino)
	}

	gd, err := a.groups.Descriptor(g)
	if err != nil {
		return err
	}

	buf, err := a.pool.Get(int64(gd.InodeBitmapBlock))
	if err != nil {
		return fmt.Errorf("alloc: reading inode bitmap for group %d: %w", g, err)
	}
	defer buf.Release()

	bm := bitmap.View(buf.Bytes())
	if !bm.Test(idx) {
		return nil
	}
	bm.Clear(idx)
	buf.MarkDirty()

	gd.FreeInodeCount++
	if err := a.groups.Update(g, gd); err != nil {
		return err
	}
	if hint := a.groups.FirstFreeInode(g); hint < 0 || int64(idx) < hint {
		a.groups.SetFirstFreeInode(g, int64(idx))
	}

	a.super.FreeInodeCount++
	a.super.Dirty = true

	return nil
}
