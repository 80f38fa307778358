//go:build unix

package inspect

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

// statSys extracts inode, link count, ownership and allocated size
// from file info on Unix systems.
func statSys(info fs.FileInfo) (inode, nlink uint64, uid, gid uint32, blocks int64) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino, uint64(st.Nlink), st.Uid, st.Gid, st.Blocks * 512
	}
	return 0, 1, 0, 0, info.Size()
}

// accessOK checks real-uid access the way access(2) does.
func accessOK(path string, write bool) bool {
	mode := uint32(unix.R_OK)
	if write {
		mode = unix.W_OK
	}
	return unix.Access(path, mode) == nil
}
