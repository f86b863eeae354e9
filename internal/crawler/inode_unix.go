//go:build unix

package crawler

import (
	"io/fs"
	"syscall"
)

var syscallENOTDIR = syscall.ENOTDIR

// inodeOf extracts the inode number from lstat output.
func inodeOf(info fs.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Ino) //nolint:unconvert // Ino is narrower on some platforms
	}
	return 0
}
