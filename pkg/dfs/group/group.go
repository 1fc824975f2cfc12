// Package group holds the in-memory shadow state for each group: a pointer
// into the pinned group-descriptor buffer arena plus first-free allocation
// hints, mirroring the "arena + index" shape the on-disk descriptors are
// borrowed through.
package group

import (
	"fmt"

	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

// Table owns the pinned group-descriptor buffers for the mount lifetime and
// exposes per-group descriptor access and dirty marking.
type Table struct {
	pool *bufcache.Pool

	descsPerBlock int
	buffers       []*bufcache.Buffer // one per group-descriptor-table block, pinned
	firstFreeBlk  []int64            // -1 means "unknown, scan lazily"
	firstFreeIno  []int64
}

// open reads (or, for a fresh format, allocates) the groupdesc table blocks
// starting at firstBlock and builds the in-memory shadow for groupCount
// groups. alloc selects whether buffers are obtained via Pool.Alloc (format,
// zeroed) or Pool.Get (mount, read-through).
func open(pool *bufcache.Pool, firstBlock int64, blockCount int, descsPerBlock int, groupCount int, alloc bool, freeHint int64) (*Table, error) {
	t := &Table{
		pool:          pool,
		descsPerBlock: descsPerBlock,
		buffers:       make([]*bufcache.Buffer, blockCount),
		firstFreeBlk:  make([]int64, groupCount),
		firstFreeIno:  make([]int64, groupCount),
	}

	for i := 0; i < blockCount; i++ {
		var buf *bufcache.Buffer
		var err error
		if alloc {
			buf, err = pool.Alloc(firstBlock + int64(i))
		} else {
			buf, err = pool.Get(firstBlock + int64(i))
		}
		if err != nil {
			t.releasePartial(i)
			return nil, fmt.Errorf("group: obtaining groupdesc block %d: %w", firstBlock+int64(i), err)
		}
		t.buffers[i] = buf
	}

	for i := range t.firstFreeBlk {
		t.firstFreeBlk[i] = freeHint
		t.firstFreeIno[i] = freeHint
	}

	return t, nil
}

// NewForFormat allocates fresh, zeroed groupdesc buffers for a format
// operation. Every group's free hints start at 0 (the group is entirely
// empty until format fills it in).
func NewForFormat(pool *bufcache.Pool, firstBlock int64, blockCount, descsPerBlock, groupCount int) (*Table, error) {
	return open(pool, firstBlock, blockCount, descsPerBlock, groupCount, true, 0)
}

// NewForMount reads the existing groupdesc buffers from disk for a mount
// operation. Every group's free hints start unknown (-1): the allocator
// scans lazily from the start of the bitmap on first use.
func NewForMount(pool *bufcache.Pool, firstBlock int64, blockCount, descsPerBlock, groupCount int) (*Table, error) {
	return open(pool, firstBlock, blockCount, descsPerBlock, groupCount, false, -1)
}

func (t *Table) releasePartial(n int) {
	for i := 0; i < n; i++ {
		if t.buffers[i] != nil {
			t.buffers[i].Release()
		}
	}
}

// Count returns the number of groups in the shadow table.
func (t *Table) Count() int {
	return len(t.firstFreeBlk)
}

func (t *Table) bufferAndOffset(i int) (*bufcache.Buffer, int) {
	return t.buffers[i/t.descsPerBlock], i % t.descsPerBlock
}

// Descriptor returns a decoded copy of group i's descriptor. Mutations must
// be written back through Update.
func (t *Table) Descriptor(i int) (*layout.GroupDescriptor, error) {
	buf, off := t.bufferAndOffset(i)
	start := off * layout.GroupDescriptorSize
	return layout.ParseGroupDescriptor(buf.Bytes()[start : start+layout.GroupDescriptorSize])
}

// Update encodes gd back into group i's slot and marks the owning buffer
// dirty.
func (t *Table) Update(i int, gd *layout.GroupDescriptor) error {
	buf, off := t.bufferAndOffset(i)
	start := off * layout.GroupDescriptorSize
	if err := layout.PutGroupDescriptor(buf.Bytes()[start:start+layout.GroupDescriptorSize], gd); err != nil {
		return err
	}
	buf.MarkDirty()
	return nil
}

// FirstFreeBlock returns the cached scan-start hint for group i's block
// bitmap.
func (t *Table) FirstFreeBlock(i int) int64 {
	return t.firstFreeBlk[i]
}

// SetFirstFreeBlock updates the scan-start hint for group i's block bitmap.
func (t *Table) SetFirstFreeBlock(i int, v int64) {
	t.firstFreeBlk[i] = v
}

// FirstFreeInode returns the cached scan-start hint for group i's inode
// bitmap.
func (t *Table) FirstFreeInode(i int) int64 {
	return t.firstFreeIno[i]
}

// SetFirstFreeInode updates the scan-start hint for group i's inode bitmap.
func (t *Table) SetFirstFreeInode(i int, v int64) {
	t.firstFreeIno[i] = v
}

// Close releases every pinned groupdesc buffer. It does not flush; callers
// flush the pool separately as part of unmount.
func (t *Table) Close() {
	for _, buf := range t.buffers {
		buf.Release()
	}
}
