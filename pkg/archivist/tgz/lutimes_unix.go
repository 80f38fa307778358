//go:build unix

package tgz

import (
	"time"

	"golang.org/x/sys/unix"
)

func lutimes(path string, mtime time.Time) error {
	now := unix.NsecToTimeval(time.Now().UnixNano())
	tv := unix.NsecToTimeval(mtime.UnixNano())
	return unix.Lutimes(path, []unix.Timeval{now, tv})
}
