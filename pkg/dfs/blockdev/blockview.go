package blockdev

import "fmt"

// BlockView presents a sector-addressed Device as a block-addressed one,
// the conversion the buffer cache and the superblock's direct-I/O path both
// need (blocksize is always a multiple of SectorSize).
type BlockView struct {
	Dev       Device
	BlockSize int64
}

// NewBlockView builds a BlockView for the given block size. blockSize must be
// a power of two no smaller than SectorSize.
func NewBlockView(dev Device, blockSize int64) (*BlockView, error) {
	if blockSize < SectorSize || blockSize%SectorSize != 0 {
		return nil, fmt.Errorf("blockdev: block size %d is not a multiple of sector size %d", blockSize, SectorSize)
	}
	return &BlockView{Dev: dev, BlockSize: blockSize}, nil
}

func (v *BlockView) sectorsPerBlock() int64 {
	return v.BlockSize / SectorSize
}

// SectorsPerBlock reports how many sectors make up one block, for callers
// (e.g. format's bulk zeroing pass) that need to address the underlying
// Device directly, bypassing block-at-a-time I/O.
func (v *BlockView) SectorsPerBlock() int64 {
	return v.sectorsPerBlock()
}

// BlockCount reports the number of whole blocks the device holds.
func (v *BlockView) BlockCount() (int64, error) {
	sectors, err := v.Dev.SectorCount()
	if err != nil {
		return 0, err
	}
	return sectors / v.sectorsPerBlock(), nil
}

// ReadBlock reads one block-sized buffer at block number blockNo.
func (v *BlockView) ReadBlock(buf []byte, blockNo int64) error {
	if int64(len(buf)) != v.BlockSize {
		return fmt.Errorf("blockdev: buffer length %d does not match block size %d", len(buf), v.BlockSize)
	}
	return v.Dev.ReadSectors(buf, blockNo*v.sectorsPerBlock())
}

// WriteBlock writes one block-sized buffer at block number blockNo.
func (v *BlockView) WriteBlock(buf []byte, blockNo int64) error {
	if int64(len(buf)) != v.BlockSize {
		return fmt.Errorf("blockdev: buffer length %d does not match block size %d", len(buf), v.BlockSize)
	}
	return v.Dev.WriteSectors(buf, blockNo*v.sectorsPerBlock())
}
