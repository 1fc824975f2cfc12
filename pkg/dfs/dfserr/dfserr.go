// Package dfserr defines the small, shared vocabulary of sentinel errors the
// filesystem core returns, mirroring the negated POSIX-style codes the
// administrative interface reports (EINVAL, EIO, ENOSPC, ENOMEM).
package dfserr

import "errors"

var (
	// ErrInvalid corresponds to -EINVAL: malformed options, an unknown
	// option key, or any other caller-supplied argument that fails
	// validation before touching the device.
	ErrInvalid = errors.New("dfs: invalid argument")

	// ErrIO corresponds to -EIO: a device read/write failed, or the
	// superblock signature/version did not match on mount.
	ErrIO = errors.New("dfs: i/o error")

	// ErrNoSpace corresponds to -ENOSPC: every group's block or inode
	// bitmap is full.
	ErrNoSpace = errors.New("dfs: no space left")

	// ErrNoMemory corresponds to -ENOMEM: the buffer pool could not be
	// allocated at the requested size.
	ErrNoMemory = errors.New("dfs: out of memory")

	// ErrTooSmall is returned by format when the device cannot hold even
	// a single group.
	ErrTooSmall = errors.New("dfs: filesystem too small")

	// ErrFormatInconsistent is returned by format when a reserved inode's
	// allocated number drifts from its expected sequential index.
	ErrFormatInconsistent = errors.New("dfs: format inconsistency reserving inodes")
)
