// Package inode implements inode descriptor materialisation: locating the
// cache block holding a given inode number, pinning it, and handing back a
// typed view onto the descriptor slot.
package inode

import (
	"fmt"

	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/group"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

// Handle is a pinned reference to one inode descriptor's backing buffer.
// Descriptor returns a decoded copy; modifications to it must be written
// back with Put, which marks the buffer dirty. The underlying buffer is
// released by Release.
type Handle struct {
	buf    *bufcache.Buffer
	offset int // byte offset of this inode's slot within buf
}

// Descriptor decodes the inode descriptor this handle refers to.
func (h *Handle) Descriptor() (*layout.InodeDescriptor, error) {
	return layout.ParseInodeDescriptor(h.buf.Bytes()[h.offset : h.offset+layout.InodeDescriptorSize])
}

// Put encodes d back into this handle's slot and marks the buffer dirty.
func (h *Handle) Put(d *layout.InodeDescriptor) error {
	if err := layout.PutInodeDescriptor(h.buf.Bytes()[h.offset:h.offset+layout.InodeDescriptorSize], d); err != nil {
		return err
	}
	h.buf.MarkDirty()
	return nil
}

// Release drops the handle's reference to the backing buffer.
func (h *Handle) Release() {
	h.buf.Release()
}

// Locator resolves inode numbers to (group, block, slot) coordinates; the
// package-level Get and New fetch the corresponding buffer. It needs only the
// parameters fixed at mount/format time, not the live group table, so the
// coordinate math is independently unit-testable.
type Locator struct {
	InodesPerGroup int64
	InodesPerBlock int64
}

// ResolveBlock computes the absolute block number and in-block slot index
// holding inode ino, given its group's inode table base block.
func (l Locator) ResolveBlock(ino int64, inodeTableBlock int64) (block int64, slot int64, err error) {
	if l.InodesPerGroup <= 0 || l.InodesPerBlock <= 0 {
		return 0, 0, fmt.Errorf("inode: locator not initialised")
	}
	offset := ino % l.InodesPerGroup
	block = inodeTableBlock + offset/l.InodesPerBlock
	slot = offset % l.InodesPerBlock
	return block, slot, nil
}

// GroupOf returns the group index containing ino.
func (l Locator) GroupOf(ino int64) int64 {
	return ino / l.InodesPerGroup
}

// Get materialises a handle for inode ino, reading its block through the
// pool if it is not already cached.
func Get(pool *bufcache.Pool, groups *group.Table, loc Locator, ino int64) (*Handle, error) {
	g := int(loc.GroupOf(ino))
	if g < 0 || g >= groups.Count() {
		return nil, fmt.Errorf("inode: %d is outside any group", ino)
	}

	gd, err := groups.Descriptor(g)
	if err != nil {
		return nil, err
	}

	block, slot, err := loc.ResolveBlock(ino, int64(gd.InodeTableBlock))
	if err != nil {
		return nil, err
	}

	buf, err := pool.Get(block)
	if err != nil {
		return nil, fmt.Errorf("inode: reading inode table block %d: %w", block, err)
	}

	return &Handle{buf: buf, offset: int(slot) * layout.InodeDescriptorSize}, nil
}

// New obtains the buffer backing a freshly assigned inode number (the caller
// assigns the number beforehand, e.g. via alloc.AllocInode) and zeroes its
// descriptor slot, materialising a brand new descriptor.
func New(pool *bufcache.Pool, groups *group.Table, loc Locator, ino int64) (*Handle, error) {
	h, err := Get(pool, groups, loc, ino)
	if err != nil {
		return nil, err
	}
	zero := layout.InodeDescriptor{}
	if err := h.Put(&zero); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}
