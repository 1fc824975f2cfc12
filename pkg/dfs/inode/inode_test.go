package inode

import (
	"testing"

	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/dfs/bufcache"
	"github.com/mringgaard/dfs/pkg/dfs/group"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

func TestResolveBlock(t *testing.T) {
	loc := Locator{InodesPerGroup: 32, InodesPerBlock: 4}

	block, slot, err := loc.ResolveBlock(0, 100)
	if err != nil {
		t.Fatalf("ResolveBlock: %v", err)
	}
	if block != 100 || slot != 0 {
		t.Fatalf("expected (100, 0) for inode 0, got (%d, %d)", block, slot)
	}

	// Inode 5 in a group of 32, 4 per block: offset 5, block 100 + 5/4 = 101, slot 5%4 = 1.
	block, slot, err = loc.ResolveBlock(5, 100)
	if err != nil {
		t.Fatalf("ResolveBlock: %v", err)
	}
	if block != 101 || slot != 1 {
		t.Fatalf("expected (101, 1) for inode 5, got (%d, %d)", block, slot)
	}

	// Inode 37 belongs to the second group (offset 5 within it); the table
	// base block passed in is the second group's own inode table block.
	block, slot, err = loc.ResolveBlock(37, 200)
	if err != nil {
		t.Fatalf("ResolveBlock: %v", err)
	}
	if block != 201 || slot != 1 {
		t.Fatalf("expected (201, 1) for inode 37 relative to group base 200, got (%d, %d)", block, slot)
	}
}

func TestGroupOf(t *testing.T) {
	loc := Locator{InodesPerGroup: 32, InodesPerBlock: 4}
	if g := loc.GroupOf(5); g != 0 {
		t.Fatalf("expected group 0, got %d", g)
	}
	if g := loc.GroupOf(37); g != 1 {
		t.Fatalf("expected group 1, got %d", g)
	}
}

func TestGetAndPutDescriptor(t *testing.T) {
	dev := blockdev.NewMemDevice(64)
	view, err := blockdev.NewBlockView(dev, 512)
	if err != nil {
		t.Fatalf("NewBlockView: %v", err)
	}
	pool, err := bufcache.NewPool(view, 16, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	descsPerBlock := 512 / layout.GroupDescriptorSize
	groups, err := group.NewForFormat(pool, 1, 1, descsPerBlock, 1)
	if err != nil {
		t.Fatalf("NewForFormat: %v", err)
	}
	defer groups.Close()

	gd := &layout.GroupDescriptor{InodeTableBlock: 5}
	if err := groups.Update(0, gd); err != nil {
		t.Fatalf("Update: %v", err)
	}

	loc := Locator{InodesPerGroup: 4, InodesPerBlock: 4}

	h, err := New(pool, groups, loc, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d, err := h.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if d.LinkCount != 0 {
		t.Fatalf("expected freshly zeroed descriptor, got link count %d", d.LinkCount)
	}

	d.Flags = layout.InodeFlagDirectory
	d.LinkCount = 1
	if err := h.Put(d); err != nil {
		t.Fatalf("Put: %v", err)
	}
	h.Release()

	h2, err := Get(pool, groups, loc, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer h2.Release()

	got, err := h2.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if !got.IsDirectory() || got.LinkCount != 1 {
		t.Fatalf("expected persisted descriptor, got %+v", got)
	}
}
