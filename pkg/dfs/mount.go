package dfs

import (
	"fmt"

	"github.com/mringgaard/dfs/pkg/dfs/alloc"
	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/dfserr"
	"github.com/mringgaard/dfs/pkg/dfs/group"
	"github.com/mringgaard/dfs/pkg/dfs/inode"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
	"github.com/mringgaard/dfs/pkg/dfs/options"
)

// Mount reads the superblock from dev, validates it, and brings up the
// buffer pool and group shadow table needed to serve allocation and inode
// requests.
func Mount(dev blockdev.Device, optString string) (*Filesystem, error) {
	opt, err := options.Parse(optString)
	if err != nil {
		return nil, err
	}

	super, err := readSuperblockDirect(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: reading superblock: %v", dfserr.ErrIO, err)
	}

	if super.Signature != layout.Signature {
		return nil, fmt.Errorf("%w: invalid signature on device", dfserr.ErrIO)
	}
	if super.Version != layout.Version {
		return nil, fmt.Errorf("%w: unsupported version %d", dfserr.ErrIO, super.Version)
	}
	super.Dirty = false

	geo := deriveGeometry(super)

	view, err := blockdev.NewBlockView(dev, geo.blockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dfserr.ErrInvalid, err)
	}

	cacheBuffers := int64(opt.Cache)
	if cacheBuffers == 0 {
		cacheBuffers = int64(super.CacheBuffers)
	}
	if cacheBuffers == 0 {
		cacheBuffers = layout.DefaultCacheBuffers
	}
	if cacheBuffers > int64(super.BlockCount) {
		cacheBuffers = int64(super.BlockCount)
	}

	fs := &Filesystem{dev: dev, view: view, super: super, geo: geo}

	pool, err := bufcache.NewPool(view, int(cacheBuffers), func() {
		if !super.Dirty {
			return
		}
		_ = writeSuperblockDirect(dev, super)
		super.Dirty = false
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dfserr.ErrNoMemory, err)
	}
	fs.pool = pool

	groups, err := group.NewForMount(pool, int64(super.GroupdescTableBlock), int(geo.groupdescBlocks), int(geo.groupdescsPerBlock), int(super.GroupCount))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", dfserr.ErrIO, err)
	}
	fs.groups = groups

	fs.alloc = alloc.New(pool, groups, super, int64(super.InodesPerGroup))
	fs.loc = inode.Locator{InodesPerGroup: int64(super.InodesPerGroup), InodesPerBlock: geo.inodesPerBlock}

	return fs, nil
}
