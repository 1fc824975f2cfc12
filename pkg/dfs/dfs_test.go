package dfs

import (
	"errors"
	"testing"

	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/dfs/dfserr"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

// smallDevice returns a device sized like the spec's worked example: 128
// MiB at 512-byte sectors (262144 sectors).
func smallDevice() *blockdev.MemDevice {
	return blockdev.NewMemDevice(262144)
}

func TestFormatDefaultsThenMountRoundTrips(t *testing.T) {
	dev := smallDevice()

	if err := Format(dev, "", nil); err != nil {
		t.Fatalf("Format: %v", err)
	}

	fs, err := Mount(dev, "")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	st := fs.Statfs()
	if st.BlockSize != layout.DefaultBlockSize {
		t.Fatalf("expected default block size %d, got %d", layout.DefaultBlockSize, st.BlockSize)
	}
	if st.Blocks != 32768 {
		t.Fatalf("expected 32768 blocks, got %d", st.Blocks)
	}
	if fs.super.GroupCount != 1 {
		t.Fatalf("expected a single group for a 128 MiB device, got %d", fs.super.GroupCount)
	}
	if fs.super.GroupdescTableBlock != 17 {
		t.Fatalf("expected groupdesc table block 17, got %d", fs.super.GroupdescTableBlock)
	}

	if err := fs.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
}

func TestQuickFormatSmallerBlockSize(t *testing.T) {
	dev := smallDevice()

	if err := Format(dev, "blocksize=512,quick", nil); err != nil {
		t.Fatalf("Format: %v", err)
	}

	fs, err := Mount(dev, "")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer fs.Unmount()

	if fs.super.FirstReservedBlock != 2 {
		t.Fatalf("expected first reserved block 2 for blocksize == sectorsize, got %d", fs.super.FirstReservedBlock)
	}
	if fs.super.GroupdescTableBlock != 18 {
		t.Fatalf("expected groupdesc table block 18, got %d", fs.super.GroupdescTableBlock)
	}
	if fs.super.BlocksPerGroup != 4096 {
		t.Fatalf("expected 4096 blocks per group, got %d", fs.super.BlocksPerGroup)
	}
	if fs.super.GroupCount != 64 {
		t.Fatalf("expected 64 groups, got %d", fs.super.GroupCount)
	}
}

func TestFormatRejectsUnknownOption(t *testing.T) {
	dev := smallDevice()
	if err := Format(dev, "", nil); err != nil {
		t.Fatalf("Format: %v", err)
	}

	before := make([]byte, blockdev.SectorSize)
	_ = dev.ReadSectors(before, layout.SuperblockSector)

	err := Format(dev, "widgets=3", nil)
	if err == nil {
		t.Fatalf("expected unknown option to fail")
	}
	if !errors.Is(err, dfserr.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	after := make([]byte, blockdev.SectorSize)
	_ = dev.ReadSectors(after, layout.SuperblockSector)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("expected device to be unmodified after a rejected format")
		}
	}
}

func TestMountRejectsCorruptSignature(t *testing.T) {
	dev := smallDevice()
	if err := Format(dev, "", nil); err != nil {
		t.Fatalf("Format: %v", err)
	}

	corrupt := make([]byte, blockdev.SectorSize)
	_ = dev.ReadSectors(corrupt, layout.SuperblockSector)
	corrupt[0] ^= 0xFF
	if err := dev.WriteSectors(corrupt, layout.SuperblockSector); err != nil {
		t.Fatalf("corrupting superblock: %v", err)
	}

	_, err := Mount(dev, "")
	if err == nil {
		t.Fatalf("expected mount of a corrupt superblock to fail")
	}
	if !errors.Is(err, dfserr.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestAllocateBlocksThenFreeInReverseRestoresState(t *testing.T) {
	dev := smallDevice()
	if err := Format(dev, "", nil); err != nil {
		t.Fatalf("Format: %v", err)
	}

	fs, err := Mount(dev, "")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer fs.Unmount()

	freeBefore := fs.super.FreeBlockCount

	var blocks []int64
	for i := 0; i < 10; i++ {
		bno, err := fs.AllocBlock()
		if err != nil {
			t.Fatalf("AllocBlock: %v", err)
		}
		blocks = append(blocks, bno)
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		if err := fs.FreeBlock(blocks[i]); err != nil {
			t.Fatalf("FreeBlock: %v", err)
		}
	}

	if fs.super.FreeBlockCount != freeBefore {
		t.Fatalf("expected free block count to be restored: got %d want %d", fs.super.FreeBlockCount, freeBefore)
	}
}

func TestMountUnmountMountIsFixedPoint(t *testing.T) {
	dev := smallDevice()
	if err := Format(dev, "", nil); err != nil {
		t.Fatalf("Format: %v", err)
	}

	fs1, err := Mount(dev, "")
	if err != nil {
		t.Fatalf("first Mount: %v", err)
	}
	st1 := fs1.Statfs()
	if err := fs1.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}

	fs2, err := Mount(dev, "")
	if err != nil {
		t.Fatalf("second Mount: %v", err)
	}
	defer fs2.Unmount()
	st2 := fs2.Statfs()

	if st1 != st2 {
		t.Fatalf("expected statfs to be a fixed point across mount/unmount with no allocation: %+v vs %+v", st1, st2)
	}
}

func TestRootDirectoryIsReservedAndADirectory(t *testing.T) {
	dev := smallDevice()
	if err := Format(dev, "", nil); err != nil {
		t.Fatalf("Format: %v", err)
	}

	fs, err := Mount(dev, "")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer fs.Unmount()

	h, err := fs.GetInode(layout.RootInode)
	if err != nil {
		t.Fatalf("GetInode(root): %v", err)
	}
	defer h.Release()

	d, err := h.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if !d.IsDirectory() {
		t.Fatalf("expected root inode to be a directory")
	}
	if d.LinkCount != 1 {
		t.Fatalf("expected root inode link count 1, got %d", d.LinkCount)
	}
}
