package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mringgaard/dfs/pkg/dfs/bitmap"
	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/dfserr"
	"github.com/mringgaard/dfs/pkg/dfs/group"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

// harness builds a single-group filesystem shadow small enough to drive
// directly: one groupdesc block, a 6-block metadata prefix (reserved block 0
// + groupdesc table + both bitmaps + a 2-block inode table), and 14 free data
// blocks.
func harness(t *testing.T) (*bufcache.Pool, *group.Table, *layout.Superblock, *Allocator) {
	t.Helper()

	const blockSize = 512
	const blockCount = 20
	const inodesPerGroup = 16
	const metaBlocks = 6 // groupdesc(1) + block bitmap(1) + inode bitmap(1) + inode table(2) ... + 1 reserved

	dev := blockdev.NewMemDevice(blockCount)
	view, err := blockdev.NewBlockView(dev, blockSize)
	require.NoError(t, err)

	pool, err := bufcache.NewPool(view, blockCount, nil)
	require.NoError(t, err)
	pool.SetNoSync(true)

	groups, err := group.NewForFormat(pool, 1, 1, blockSize/layout.GroupDescriptorSize, 1)
	require.NoError(t, err)

	gd := &layout.GroupDescriptor{
		BlockBitmapBlock: 2,
		InodeBitmapBlock: 3,
		InodeTableBlock:  4,
		BlockCount:       blockCount,
		FreeBlockCount:   blockCount - metaBlocks,
		FreeInodeCount:   inodesPerGroup,
	}
	require.NoError(t, groups.Update(0, gd))

	bmBuf, err := pool.Alloc(int64(gd.BlockBitmapBlock))
	require.NoError(t, err)
	bitmap.View(bmBuf.Bytes()).SetRun(0, metaBlocks)
	bmBuf.MarkDirty()
	bmBuf.Release()

	super := &layout.Superblock{
		BlocksPerGroup: 4096,
		BlockCount:     blockCount,
		GroupCount:     1,
		InodesPerGroup: inodesPerGroup,
		InodeCount:     inodesPerGroup,
		FreeBlockCount: blockCount - metaBlocks,
		FreeInodeCount: inodesPerGroup,
	}

	return pool, groups, super, New(pool, groups, super, inodesPerGroup)
}

func TestAllocBlockSkipsMetadataPrefix(t *testing.T) {
	_, _, super, a := harness(t)

	bno, err := a.AllocBlock()
	require.NoError(t, err)
	require.Equal(t, int64(6), bno, "first free data block should be right after the metadata prefix")
	require.EqualValues(t, 13, super.FreeBlockCount)
}

func TestAllocBlockThenFreeRestoresCounts(t *testing.T) {
	_, groups, super, a := harness(t)

	bno, err := a.AllocBlock()
	require.NoError(t, err)

	require.NoError(t, a.FreeBlock(bno))
	require.EqualValues(t, 14, super.FreeBlockCount)

	gd, err := groups.Descriptor(0)
	require.NoError(t, err)
	require.EqualValues(t, 14, gd.FreeBlockCount)
}

func TestAllocBlockExhaustion(t *testing.T) {
	_, _, _, a := harness(t)

	for i := 0; i < 14; i++ {
		_, err := a.AllocBlock()
		require.NoError(t, err)
	}

	_, err := a.AllocBlock()
	require.ErrorIs(t, err, dfserr.ErrNoSpace)
}

func TestAllocInodeSequentialAssignment(t *testing.T) {
	_, _, super, a := harness(t)

	for i := int64(0); i < 16; i++ {
		ino, err := a.AllocInode()
		require.NoError(t, err)
		require.Equal(t, i, ino)
	}
	require.EqualValues(t, 0, super.FreeInodeCount)

	_, err := a.AllocInode()
	require.ErrorIs(t, err, dfserr.ErrNoSpace)
}

func TestFreeInodeRestoresFirstFreeHint(t *testing.T) {
	_, groups, super, a := harness(t)

	for i := 0; i < 5; i++ {
		_, err := a.AllocInode()
		require.NoError(t, err)
	}

	require.NoError(t, a.FreeInode(2))
	require.EqualValues(t, 12, super.FreeInodeCount)
	require.Equal(t, int64(2), groups.FirstFreeInode(0))

	ino, err := a.AllocInode()
	require.NoError(t, err)
	require.Equal(t, int64(2), ino, "freeing inode 2 should make it the next allocation")
}
