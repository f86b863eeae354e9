//go:build windows

package crawler

import (
	"io/fs"
	"syscall"
)

var syscallENOTDIR = syscall.ENOTDIR

// inodeOf returns 0 on Windows: file identity there needs GetFileInformationByHandle,
// and the journal only uses the inode to notice replaced files.
func inodeOf(_ fs.FileInfo) uint64 {
	return 0
}
