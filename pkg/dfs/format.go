package dfs

import (
	"fmt"
	"time"

	"github.com/mringgaard/dfs/pkg/dfs/alloc"
	"github.com/mringgaard/dfs/pkg/dfs/bitmap"
	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/dfserr"
	"github.com/mringgaard/dfs/pkg/dfs/group"
	"github.com/mringgaard/dfs/pkg/dfs/inode"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
	"github.com/mringgaard/dfs/pkg/dfs/options"
	"github.com/mringgaard/dfs/pkg/elog"
)

// Format lays out a fresh filesystem on dev according to optString, then
// closes it; a separate Mount call is required to use it. log is optional
// and, when given, receives a progress bar for the whole-device zeroing
// pass (skipped entirely when the quick option is set).
func Format(dev blockdev.Device, optString string, log elog.View) error {
	opt, err := options.Parse(optString)
	if err != nil {
		return err
	}

	sectorCount, err := dev.SectorCount()
	if err != nil {
		return fmt.Errorf("%w: querying device size: %v", dfserr.ErrIO, err)
	}

	if opt.BlockSize < blockdev.SectorSize || opt.BlockSize&(opt.BlockSize-1) != 0 {
		return fmt.Errorf("%w: blocksize %d must be a power of two no smaller than %d", dfserr.ErrInvalid, opt.BlockSize, blockdev.SectorSize)
	}

	super := &layout.Superblock{
		Signature:    layout.Signature,
		Version:      layout.Version,
		LogBlockSize: layout.Log2(uint32(opt.BlockSize)),
		Dirty:        true,
	}

	super.BlocksPerGroup = uint32(opt.BlockSize * 8)
	super.BlockCount = uint32(sectorCount / int64(opt.BlockSize/blockdev.SectorSize))

	if opt.Cache == 0 {
		super.CacheBuffers = layout.DefaultCacheBuffers
	} else {
		super.CacheBuffers = uint32(opt.Cache)
	}
	if super.CacheBuffers > super.BlockCount {
		super.CacheBuffers = super.BlockCount
	}

	inodesPerBlock := int64(opt.BlockSize) / layout.InodeDescriptorSize

	var inodesPerGroup int64
	if int64(super.BlocksPerGroup) < int64(super.BlockCount) {
		inodesPerGroup = int64(opt.BlockSize) * int64(super.BlocksPerGroup) / int64(opt.InodeRatio)
	} else {
		inodesPerGroup = int64(opt.BlockSize) * int64(super.BlockCount) / int64(opt.InodeRatio)
	}
	if inodesPerGroup > int64(opt.BlockSize)*8 {
		inodesPerGroup = int64(opt.BlockSize) * 8
	}
	inodesPerGroup = divCeil(inodesPerGroup, inodesPerBlock) * inodesPerBlock
	super.InodesPerGroup = uint32(inodesPerGroup)

	inodeBlocksPerGroup := divCeil(inodesPerGroup*layout.InodeDescriptorSize, int64(opt.BlockSize))

	groupCount := divCeil(int64(super.BlockCount), int64(super.BlocksPerGroup))
	groupdescsPerBlock := int64(opt.BlockSize) / layout.GroupDescriptorSize
	groupdescBlocks := divCeil(groupCount*layout.GroupDescriptorSize, int64(opt.BlockSize))

	super.FirstReservedBlock = 1
	if opt.BlockSize <= blockdev.SectorSize {
		super.FirstReservedBlock++
	}
	super.ReservedBlocks = uint32(opt.ReservedBlocks)
	super.GroupdescTableBlock = super.FirstReservedBlock + super.ReservedBlocks

	tailBlocks := int64(super.BlockCount) % int64(super.BlocksPerGroup)
	if tailBlocks > 0 && tailBlocks < inodeBlocksPerGroup+2 {
		groupCount--
	}
	if groupCount <= 0 {
		return dfserr.ErrTooSmall
	}
	super.GroupCount = uint32(groupCount)
	super.InodeCount = uint32(inodesPerGroup * groupCount)
	super.ReservedInodes = uint32(opt.ReservedInodes)

	super.FreeInodeCount = super.InodeCount
	super.FreeBlockCount = super.BlockCount

	view, err := blockdev.NewBlockView(dev, int64(opt.BlockSize))
	if err != nil {
		return fmt.Errorf("%w: %v", dfserr.ErrInvalid, err)
	}

	pool, err := bufcache.NewPool(view, int(super.CacheBuffers), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", dfserr.ErrNoMemory, err)
	}
	pool.SetNoSync(true)

	if !opt.Quick {
		zeroStart := int64(super.GroupdescTableBlock) + groupdescBlocks
		if err := zeroDevice(view, log, zeroStart, int64(super.BlockCount)); err != nil {
			return fmt.Errorf("%w: zeroing device: %v", dfserr.ErrIO, err)
		}
	}

	groups, err := group.NewForFormat(pool, int64(super.GroupdescTableBlock), int(groupdescBlocks), int(groupdescsPerBlock), int(groupCount))
	if err != nil {
		return fmt.Errorf("%w: %v", dfserr.ErrNoMemory, err)
	}

	for i := 0; i < int(groupCount); i++ {
		var metaBlocks int64
		if i == 0 {
			metaBlocks = int64(super.GroupdescTableBlock) + groupdescBlocks
		}
		firstBlock := int64(super.BlocksPerGroup) * int64(i)

		gd := &layout.GroupDescriptor{}
		gd.BlockBitmapBlock = uint32(firstBlock + metaBlocks)
		metaBlocks++
		gd.InodeBitmapBlock = uint32(firstBlock + metaBlocks)
		metaBlocks++
		gd.InodeTableBlock = uint32(firstBlock + metaBlocks)
		metaBlocks += inodeBlocksPerGroup

		buf, err := pool.Alloc(int64(gd.BlockBitmapBlock))
		if err != nil {
			return fmt.Errorf("%w: allocating block bitmap: %v", dfserr.ErrNoMemory, err)
		}
		bitmap.View(buf.Bytes()).SetRun(0, int(metaBlocks))
		buf.MarkDirty()
		buf.Release()

		if int64(super.BlocksPerGroup)*int64(i+1) > int64(super.BlockCount) {
			gd.BlockCount = super.BlockCount - super.BlocksPerGroup*uint32(i)
		} else {
			gd.BlockCount = super.BlocksPerGroup
		}

		gd.FreeInodeCount = uint32(inodesPerGroup)
		gd.FreeBlockCount = gd.BlockCount - uint32(metaBlocks)

		super.FreeBlockCount -= uint32(metaBlocks)

		if err := groups.Update(i, gd); err != nil {
			return err
		}
	}

	// Direct device writes are safe here only because nosync is still set;
	// outside nosync, only the cache writes to allocated blocks.
	if opt.Quick {
		if err := quickZeroMetadata(view, groups, int(groupCount), inodeBlocksPerGroup); err != nil {
			return fmt.Errorf("%w: %v", dfserr.ErrIO, err)
		}
	}

	alc := alloc.New(pool, groups, super, inodesPerGroup)
	loc := inode.Locator{InodesPerGroup: inodesPerGroup, InodesPerBlock: inodesPerBlock}

	for i := int64(0); i < int64(opt.ReservedInodes); i++ {
		ino, err := alc.AllocInode()
		if err != nil {
			return fmt.Errorf("%w: reserving inodes: %v", dfserr.ErrIO, err)
		}
		if ino != i {
			return fmt.Errorf("%w: expected inode %d, got %d", dfserr.ErrFormatInconsistent, i, ino)
		}
	}

	root, err := inode.Get(pool, groups, loc, layout.RootInode)
	if err != nil {
		return fmt.Errorf("%w: %v", dfserr.ErrIO, err)
	}
	now := uint32(time.Now().Unix())
	rootDesc := &layout.InodeDescriptor{
		Flags:     layout.InodeFlagDirectory,
		LinkCount: 1,
		Ctime:     now,
		Mtime:     now,
	}
	if putErr := root.Put(rootDesc); putErr != nil {
		root.Release()
		return putErr
	}
	root.Release()

	pool.SetNoSync(false)

	groups.Close()
	if err := pool.Close(); err != nil {
		return fmt.Errorf("%w: %v", dfserr.ErrIO, err)
	}

	if err := writeSuperblockDirect(dev, super); err != nil {
		return fmt.Errorf("%w: writing superblock: %v", dfserr.ErrIO, err)
	}

	return nil
}

// zeroDevice writes zero blocks from startBlock to blockCount (exclusive),
// in FormatChunkSize-sized chunks, bypassing the buffer cache. When log is
// non-nil it reports progress as a percentage.
func zeroDevice(view *blockdev.BlockView, log elog.View, startBlock, blockCount int64) error {
	blocksPerIO := layout.FormatChunkSize / view.BlockSize
	if blocksPerIO < 1 {
		blocksPerIO = 1
	}
	chunk := make([]byte, blocksPerIO*view.BlockSize)

	var progress elog.Progress
	if log != nil {
		progress = log.NewProgress("zeroing device", "%", blockCount-startBlock)
	}

	for i := startBlock; i < blockCount; i += blocksPerIO {
		n := blocksPerIO
		if i+n > blockCount {
			n = blockCount - i
		}
		if err := view.Dev.WriteSectors(chunk[:n*view.BlockSize], i*view.SectorsPerBlock()); err != nil {
			if progress != nil {
				progress.Finish(false)
			}
			return err
		}
		if progress != nil {
			progress.Increment(n)
		}
	}

	if progress != nil {
		progress.Finish(true)
	}
	return nil
}

// quickZeroMetadata explicitly zeroes every group's bitmap and inode-table
// blocks, bypassing the cache. A quick format skips the whole-device zero
// pass, so without this step stale data under those blocks would be
// misread as allocation state.
func quickZeroMetadata(view *blockdev.BlockView, groups *group.Table, groupCount int, inodeBlocksPerGroup int64) error {
	zero := make([]byte, view.BlockSize)
	for i := 0; i < groupCount; i++ {
		gd, err := groups.Descriptor(i)
		if err != nil {
			return err
		}
		if err := view.WriteBlock(zero, int64(gd.BlockBitmapBlock)); err != nil {
			return err
		}
		if err := view.WriteBlock(zero, int64(gd.InodeBitmapBlock)); err != nil {
			return err
		}
		for j := int64(0); j < inodeBlocksPerGroup; j++ {
			if err := view.WriteBlock(zero, int64(gd.InodeTableBlock)+j); err != nil {
				return err
			}
		}
	}
	return nil
}
