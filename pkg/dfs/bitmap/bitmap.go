// Package bitmap implements bit-level operations over a block-sized byte
// slice, the representation used for both the block bitmap and the inode
// bitmap of each group.
package bitmap

// View is a borrowed, block-sized byte slice interpreted as a bitmap: bit i
// of the bitmap lives in byte i/8, bit position i%8, least-significant bit
// first. The View does not own the memory; it typically wraps a
// bufcache.Buffer's Bytes().
type View []byte

// Bits reports how many bits the view holds.
func (v View) Bits() int {
	return len(v) * 8
}

// Test reports whether bit i is set.
func (v View) Test(i int) bool {
	return v[i/8]&(1<<uint(i%8)) != 0
}

// Set sets bit i.
func (v View) Set(i int) {
	v[i/8] |= 1 << uint(i%8)
}

// Clear clears bit i.
func (v View) Clear(i int) {
	v[i/8] &^= 1 << uint(i%8)
}

// SetRun sets count consecutive bits starting at i.
func (v View) SetRun(i, count int) {
	for n := 0; n < count; n++ {
		v.Set(i + n)
	}
}

// ClearRun clears count consecutive bits starting at i.
func (v View) ClearRun(i, count int) {
	for n := 0; n < count; n++ {
		v.Clear(i + n)
	}
}

// FindFirstFree scans bits [0, bound) and returns the index of the first
// clear bit, or -1 if none is found within bound. bound is typically the
// number of blocks or inodes actually present in the group, since the
// bitmap's tail may pad out to a full block.
func (v View) FindFirstFree(bound int) int {
	if bound > v.Bits() {
		bound = v.Bits()
	}

	byteBound := bound / 8
	for byteIdx := 0; byteIdx < byteBound; byteIdx++ {
		if v[byteIdx] == 0xff {
			continue
		}
		return byteIdx*8 + firstZeroBit(v[byteIdx])
	}

	for i := byteBound * 8; i < bound; i++ {
		if !v.Test(i) {
			return i
		}
	}

	return -1
}

// FindFirstFreeFrom scans bits [start, bound) and returns the index of the
// first clear bit, or -1 if none is found. It is the allocator's way of
// honouring a group's first-free hint without rescanning an already-full
// prefix of the bitmap.
func (v View) FindFirstFreeFrom(start, bound int) int {
	if start <= 0 {
		return v.FindFirstFree(bound)
	}
	if bound > v.Bits() {
		bound = v.Bits()
	}
	for i := start; i < bound; i++ {
		if !v.Test(i) {
			return i
		}
	}
	return -1
}

// CountFree returns the number of clear bits in [0, bound).
func (v View) CountFree(bound int) int {
	free := 0
	for i := 0; i < bound; i++ {
		if !v.Test(i) {
			free++
		}
	}
	return free
}

func firstZeroBit(b byte) int {
	for i := 0; i < 8; i++ {
		if b&(1<<uint(i)) == 0 {
			return i
		}
	}
	return -1
}
