package inspect

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// EntryClass is the cached classification of a single filesystem
// entry, computed from one Lstat plus (for symlinks) one resolution
// attempt.
//
// The symlink axes are independent: a link can be external and broken
// at the same time. Unresolvable is checked before Broken; both gate
// any further resolution attempt.
type EntryClass struct {
	Mode    fs.FileMode
	Size    int64
	Blocks  int64 // allocated size, st_blocks*512
	Inode   uint64
	Nlink   uint64
	UID     uint32
	GID     uint32
	ModTime time.Time

	Unreadable bool
	Unwritable bool

	IsSymlink    bool
	Target       string // literal link text
	Resolved     string // absolute resolved target, "" if unresolvable
	Unresolvable bool
	Broken       bool
	External     bool // resolved target falls outside the root
	IsDirlink    bool // resolved target is a directory
}

// IsDir reports whether the entry is a directory (not a dirlink).
func (c *EntryClass) IsDir() bool {
	return c.Mode.IsDir()
}

// IsRegular reports whether the entry is a regular file.
func (c *EntryClass) IsRegular() bool {
	return c.Mode.IsRegular()
}

// HardLinked reports whether the entry is a regular file with more
// than one name.
func (c *EntryClass) HardLinked() bool {
	return c.IsRegular() && c.Nlink > 1
}

// classify builds the EntryClass for path. Stat failures are recorded
// as unreadable rather than propagated; failed symlink resolution is
// recorded as unresolvable rather than propagated.
func classify(root, path string) *EntryClass {
	info, err := os.Lstat(path)
	if err != nil {
		return &EntryClass{Unreadable: true}
	}
	c := &EntryClass{
		Mode:    info.Mode(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	c.Inode, c.Nlink, c.UID, c.GID, c.Blocks = statSys(info)
	if c.Mode&fs.ModeSymlink != 0 {
		c.IsSymlink = true
		classifyLink(root, path, c)
		return c
	}
	if !accessOK(path, false) {
		c.Unreadable = true
	}
	if !accessOK(path, true) {
		c.Unwritable = true
	}
	return c
}

func classifyLink(root, path string, c *EntryClass) {
	target, err := os.Readlink(path)
	if err != nil {
		c.Unresolvable = true
		return
	}
	c.Target = target
	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(filepath.Dir(path), target)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Target resolves to a path that does not exist.
			c.Broken = true
			c.Resolved = filepath.Clean(abs)
		} else {
			// Link cycles and similar: no resolution at all.
			c.Unresolvable = true
			return
		}
	} else {
		c.Resolved = resolved
		if info, err := os.Stat(resolved); err == nil && info.IsDir() {
			c.IsDirlink = true
		}
	}
	rel, err := filepath.Rel(root, c.Resolved)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		c.External = true
	}
}
