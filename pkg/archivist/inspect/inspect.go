// Package inspect walks and characterises directory trees ahead of
// archiving or copying: symlink variants, hard links, unreadable
// entries, case-sensitive name collisions, and block-accurate sizes.
package inspect

import (
	"errors"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
)

// SkipAll stops a Walk early with a nil error, in the manner of
// fs.SkipAll for filepath.WalkDir.
var SkipAll = fs.SkipAll

// Dir is a handle on a directory tree plus a classification cache.
//
// Cache entries, once computed, are never invalidated: if the
// filesystem mutates while a handle is live, the cache is stale. A
// handle is meant to be created per operation and discarded when the
// operation completes.
type Dir struct {
	path string

	// FollowDirlinks makes Walk descend into symlinks whose targets
	// are directories. Off by default.
	FollowDirlinks bool

	cache map[string]*EntryClass
}

// NewDir returns a handle on the directory at path.
func NewDir(path string) (*Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, &core.StructuralError{Path: abs, Reason: "not a directory", Cause: err}
	}
	return &Dir{path: abs, cache: make(map[string]*EntryClass)}, nil
}

// Path returns the absolute path of the directory.
func (d *Dir) Path() string { return d.path }

// Basename returns the directory basename.
func (d *Dir) Basename() string { return filepath.Base(d.path) }

// ParentDir returns the path of the parent directory.
func (d *Dir) ParentDir() string { return filepath.Dir(d.path) }

// Rel returns path relative to the directory root.
func (d *Dir) Rel(path string) string {
	rel, err := filepath.Rel(d.path, path)
	if err != nil {
		return path
	}
	return rel
}

// Class returns the cached classification for an absolute path,
// computing it on first use.
func (d *Dir) Class(path string) *EntryClass {
	if c, ok := d.cache[path]; ok {
		return c
	}
	c := classify(d.path, path)
	d.cache[path] = c
	return c
}

// Walk visits every entry under the root depth-first: within each
// directory, files (and symlinks) first, then subdirectories, then
// the contents of each subdirectory in order. The root itself is not
// visited. Symlinks to directories are not descended into unless
// FollowDirlinks is set. Returning SkipAll from visit stops the walk
// cleanly; any other error aborts it.
//
// The sequence is restartable: each call re-reads directory listings
// (classifications stay cached).
func (d *Dir) Walk(visit func(path string) error) error {
	err := d.walkDir(d.path, visit)
	if errors.Is(err, SkipAll) {
		return nil
	}
	return err
}

func (d *Dir) walkDir(dir string, visit func(string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable directories surface through the classification
		// of the directory entry itself, not as a walk failure.
		return nil
	}
	var subdirs []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			subdirs = append(subdirs, p)
			continue
		}
		if d.FollowDirlinks && d.Class(p).IsDirlink {
			subdirs = append(subdirs, p)
			continue
		}
		if err := visit(p); err != nil {
			return err
		}
	}
	for _, p := range subdirs {
		if err := visit(p); err != nil {
			return err
		}
	}
	for _, p := range subdirs {
		if err := d.walkDir(p, visit); err != nil {
			return err
		}
	}
	return nil
}

// collect gathers every walked path whose classification satisfies
// keep.
func (d *Dir) collect(keep func(*EntryClass) bool) []string {
	var out []string
	_ = d.Walk(func(p string) error {
		if keep(d.Class(p)) {
			out = append(out, p)
		}
		return nil
	})
	return out
}

func (d *Dir) any(keep func(*EntryClass) bool) bool {
	found := false
	_ = d.Walk(func(p string) error {
		if keep(d.Class(p)) {
			found = true
			return SkipAll
		}
		return nil
	})
	return found
}

// UnreadableFiles returns entries the current user cannot read.
func (d *Dir) UnreadableFiles() []string {
	return d.collect(func(c *EntryClass) bool { return c.Unreadable })
}

// IsReadable reports whether every entry is readable.
func (d *Dir) IsReadable() bool {
	return !d.any(func(c *EntryClass) bool { return c.Unreadable })
}

// UnwritableFiles returns entries the current user cannot write.
func (d *Dir) UnwritableFiles() []string {
	return d.collect(func(c *EntryClass) bool { return c.Unwritable })
}

// IsWritable reports whether every entry is writable.
func (d *Dir) IsWritable() bool {
	return !d.any(func(c *EntryClass) bool { return c.Unwritable })
}

// Symlinks returns all symlinks under the root.
func (d *Dir) Symlinks() []string {
	return d.collect(func(c *EntryClass) bool { return c.IsSymlink })
}

// HasSymlinks reports whether the tree contains any symlink.
func (d *Dir) HasSymlinks() bool {
	return d.any(func(c *EntryClass) bool { return c.IsSymlink })
}

// ExternalSymlinks returns symlinks whose resolved targets fall
// outside the root.
func (d *Dir) ExternalSymlinks() []string {
	return d.collect(func(c *EntryClass) bool { return c.IsSymlink && c.External })
}

// BrokenSymlinks returns symlinks whose targets resolve to paths that
// do not exist.
func (d *Dir) BrokenSymlinks() []string {
	return d.collect(func(c *EntryClass) bool { return c.Broken })
}

// UnresolvableSymlinks returns symlinks that cannot be resolved at
// all, for example link cycles.
func (d *Dir) UnresolvableSymlinks() []string {
	return d.collect(func(c *EntryClass) bool { return c.Unresolvable })
}

// Dirlinks returns symlinks whose resolved targets are directories.
func (d *Dir) Dirlinks() []string {
	return d.collect(func(c *EntryClass) bool { return c.IsDirlink })
}

// HardLinkedFiles returns regular files with a link count above one.
func (d *Dir) HardLinkedFiles() []string {
	return d.collect(func(c *EntryClass) bool { return c.HardLinked() })
}

// CompressedFiles returns files that already carry a compression
// suffix (.gz, .bz2, .zip).
func (d *Dir) CompressedFiles() []string {
	var out []string
	_ = d.Walk(func(p string) error {
		if !d.Class(p).IsRegular() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".gz", ".bz2", ".zip":
			out = append(out, p)
		}
		return nil
	})
	return out
}

// UnknownUIDs returns paths owned by a UID with no passwd entry.
func (d *Dir) UnknownUIDs() []string {
	var out []string
	_ = d.Walk(func(p string) error {
		c := d.Class(p)
		if c.Unreadable && c.Mode == 0 {
			return nil
		}
		if _, err := user.LookupId(strconv.Itoa(int(c.UID))); err != nil {
			out = append(out, p)
		}
		return nil
	})
	return out
}

// TotalFiles counts the non-directory entries under the root.
func (d *Dir) TotalFiles() int {
	var n int
	_ = d.Walk(func(p string) error {
		if !d.Class(p).IsDir() {
			n++
		}
		return nil
	})
	return n
}

// TotalDirs counts the directories under the root, the root excluded.
func (d *Dir) TotalDirs() int {
	var n int
	_ = d.Walk(func(p string) error {
		if d.Class(p).IsDir() {
			n++
		}
		return nil
	})
	return n
}

// Size returns the total allocated size of the tree in bytes
// (st_blocks * 512), counting each hard-linked inode once.
func (d *Dir) Size() int64 {
	var size int64
	inodes := make(map[uint64]struct{})
	_ = d.Walk(func(p string) error {
		c := d.Class(p)
		if c.Nlink > 1 {
			if _, seen := inodes[c.Inode]; seen {
				return nil
			}
			inodes[c.Inode] = struct{}{}
		}
		size += c.Blocks
		return nil
	})
	return size
}

// LargestFile returns the path (relative to the root) and allocated
// size of the single largest entry.
func (d *Dir) LargestFile() (string, int64) {
	var (
		largest string
		size    int64
	)
	_ = d.Walk(func(p string) error {
		if c := d.Class(p); c.IsRegular() && c.Blocks > size {
			largest, size = p, c.Blocks
		}
		return nil
	})
	if largest == "" {
		return "", 0
	}
	return d.Rel(largest), size
}

// CaseSensitiveNames returns groups of sibling entries whose names
// collide under case folding. Each group has at least two members; a
// non-empty result means the tree needs a case-sensitive filesystem
// to be held faithfully.
func (d *Dir) CaseSensitiveNames() [][]string {
	var groups [][]string
	var scan func(dir string)
	scan = func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		byFolded := make(map[string][]string)
		for _, e := range entries {
			folded := strings.ToLower(e.Name())
			byFolded[folded] = append(byFolded[folded], filepath.Join(dir, e.Name()))
		}
		for _, names := range byFolded {
			if len(names) > 1 {
				groups = append(groups, names)
			}
		}
		for _, e := range entries {
			if e.IsDir() {
				scan(filepath.Join(dir, e.Name()))
			}
		}
	}
	scan(d.path)
	return groups
}

// Flags characterises the whole tree in a single walk.
func (d *Dir) Flags() core.StructuralFlags {
	var flags core.StructuralFlags
	_ = d.Walk(func(p string) error {
		c := d.Class(p)
		if c.IsSymlink {
			flags.HasSymlinks = true
			if c.Broken {
				flags.HasBrokenSymlinks = true
			}
			if c.Unresolvable {
				flags.HasUnresolvableSymlinks = true
			}
			if c.External {
				flags.HasExternalSymlinks = true
			}
			if c.IsDirlink {
				flags.HasDirlinks = true
			}
		}
		if c.HardLinked() {
			flags.HasHardLinkedFiles = true
		}
		if c.Unreadable {
			flags.HasUnreadableFiles = true
		}
		return nil
	})
	flags.HasCaseSensitiveFilenames = len(d.CaseSensitiveNames()) > 0
	return flags
}

// OwnerGroup returns the owner and group names for a path, falling
// back to numeric IDs when they have no system database entry.
func (d *Dir) OwnerGroup(path string) (string, string) {
	c := d.Class(path)
	owner := strconv.Itoa(int(c.UID))
	if u, err := user.LookupId(owner); err == nil {
		owner = u.Username
	}
	group := strconv.Itoa(int(c.GID))
	if g, err := user.LookupGroupId(group); err == nil {
		group = g.Name
	}
	return owner, group
}
