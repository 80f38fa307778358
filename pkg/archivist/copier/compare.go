package copier

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/checksum"
	"github.com/scidata-tools/archivist/pkg/archivist/fsutil"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
)

// CompareOptions tunes CompareDirs.
type CompareOptions struct {
	// FollowSymlinks resolves symlinks on both sides before comparing
	// content, instead of requiring matching link text. Directory
	// symlinks in the source are descended into and may match real
	// directories in the copy.
	FollowSymlinks bool

	// AllowPlaceholders lets a broken or unresolvable symlink in the
	// source match a regular file in the copy whose content is the
	// literal link text.
	AllowPlaceholders bool

	// IgnorePaths holds shell-style patterns; relative paths matching
	// any of them are skipped on both sides.
	IgnorePaths []string

	Logger zerolog.Logger
}

// CompareDirs checks that copyDir is a faithful copy of srcDir: every
// entry in the source exists in the copy with matching type and
// content, and the copy carries nothing the source does not (ignored
// paths aside). Each mismatch is logged; the returned bool is false
// if any were found.
//
// A symlink in the copy where the source has a regular file is always
// a mismatch, even when FollowSymlinks is set.
func CompareDirs(srcDir, copyDir string, opts CompareOptions) (bool, error) {
	src, err := inspect.NewDir(srcDir)
	if err != nil {
		return false, err
	}
	src.FollowDirlinks = opts.FollowSymlinks
	cp, err := inspect.NewDir(copyDir)
	if err != nil {
		return false, err
	}

	cmp := &comparer{src: src, cp: cp, opts: opts, ok: true}
	if err := cmp.forward(); err != nil {
		return false, err
	}
	if err := cmp.reverse(); err != nil {
		return false, err
	}
	return cmp.ok, nil
}

type comparer struct {
	src  *inspect.Dir
	cp   *inspect.Dir
	opts CompareOptions
	ok   bool
}

func (cmp *comparer) ignored(rel string) bool {
	for _, pat := range cmp.opts.IgnorePaths {
		if fsutil.Fnmatch(pat, rel) {
			return true
		}
	}
	return false
}

func (cmp *comparer) mismatch(rel, reason string) {
	cmp.opts.Logger.Error().Str("path", rel).Msg(reason)
	cmp.ok = false
}

// forward checks every source entry against its counterpart in the
// copy.
func (cmp *comparer) forward() error {
	return cmp.src.Walk(func(p string) error {
		rel := cmp.src.Rel(p)
		if cmp.ignored(rel) {
			return nil
		}
		other := filepath.Join(cmp.cp.Path(), rel)
		info, err := os.Lstat(other)
		if err != nil {
			cmp.mismatch(rel, "missing from copy")
			return nil
		}
		c := cmp.src.Class(p)
		switch {
		case c.IsDir() || (cmp.opts.FollowSymlinks && c.IsDirlink):
			if !info.IsDir() {
				cmp.mismatch(rel, "not a directory in copy")
			}
		case c.IsSymlink:
			cmp.compareSymlink(rel, other, c, info)
		case c.Mode.IsRegular():
			if info.Mode()&fs.ModeSymlink != 0 {
				cmp.mismatch(rel, "symlink in copy where source has a regular file")
				return nil
			}
			if !info.Mode().IsRegular() {
				cmp.mismatch(rel, "not a regular file in copy")
				return nil
			}
			if !cmp.sameContent(rel, p, other) {
				cmp.mismatch(rel, "checksum mismatch")
			}
		default:
			if info.Mode().Type() != c.Mode.Type() {
				cmp.mismatch(rel, "file type differs in copy")
			}
		}
		return nil
	})
}

func (cmp *comparer) compareSymlink(rel, other string, c *inspect.EntryClass, info fs.FileInfo) {
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(other)
		if err != nil {
			cmp.mismatch(rel, "unreadable symlink in copy")
			return
		}
		if target == c.Target {
			return
		}
		// Differing link text can still resolve to identical content.
		if cmp.opts.FollowSymlinks && c.Resolved != "" && !c.Broken {
			if cmp.sameContent(rel, c.Resolved, other) {
				return
			}
		}
		cmp.mismatch(rel, "symlink target differs in copy")
		return
	}
	if (c.Broken || c.Unresolvable) && cmp.opts.AllowPlaceholders && info.Mode().IsRegular() {
		data, err := os.ReadFile(other)
		if err != nil || string(data) != c.Target {
			cmp.mismatch(rel, "placeholder content does not match link text")
		}
		return
	}
	if cmp.opts.FollowSymlinks && c.Resolved != "" && !c.Broken && info.Mode().IsRegular() {
		if !cmp.sameContent(rel, c.Resolved, other) {
			cmp.mismatch(rel, "checksum mismatch")
		}
		return
	}
	cmp.mismatch(rel, "not a symlink in copy")
}

// sameContent compares two paths by MD5 digest, resolving any
// symlinks on open.
func (cmp *comparer) sameContent(rel, a, b string) bool {
	sumA, err := checksum.File(a)
	if err != nil {
		cmp.mismatch(rel, "unreadable in source")
		return true // already reported
	}
	sumB, err := checksum.File(b)
	if err != nil {
		cmp.mismatch(rel, "unreadable in copy")
		return true
	}
	return sumA == sumB
}

// reverse checks that the copy carries no entries absent from the
// source.
func (cmp *comparer) reverse() error {
	return cmp.cp.Walk(func(p string) error {
		rel := cmp.cp.Rel(p)
		if cmp.ignored(rel) {
			return nil
		}
		if _, err := os.Lstat(filepath.Join(cmp.src.Path(), rel)); err != nil {
			cmp.mismatch(rel, "present only in copy")
		}
		return nil
	})
}
