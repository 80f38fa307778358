// Package fsutil holds the small filesystem helpers shared by the
// builder, the unpack engine and the copy engine: attribute-preserving
// file copies and destination capability probes.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"
)

// CopyFile copies src to dst byte-for-byte and then applies src's
// permission bits and modification time, the way "cp -p" does.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return CopyStat(src, dst)
}

// CopyStat applies src's permission bits and mtime onto dst.
func CopyStat(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, time.Now(), info.ModTime())
}

// SupportsSymlinks probes whether the filesystem holding dir can
// create symbolic links.
func SupportsSymlinks(dir string) bool {
	probe := filepath.Join(dir, ".archivist_symlink_probe")
	if err := os.Symlink("probe_target", probe); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}

// IsCaseSensitive probes whether the filesystem holding dir keeps
// names differing only by case distinct.
func IsCaseSensitive(dir string) bool {
	lower := filepath.Join(dir, ".archivist_case_probe")
	upper := filepath.Join(dir, ".ARCHIVIST_CASE_PROBE")
	if err := os.WriteFile(lower, nil, 0o644); err != nil {
		return false
	}
	defer func() { _ = os.Remove(lower) }()
	_, err := os.Lstat(upper)
	return os.IsNotExist(err)
}

// LookupGroupID resolves a group name to its numeric gid.
func LookupGroupID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(g.Gid)
}

// SetGroupTree sets group ownership on every entry below root (and
// root itself), leaving the owner unchanged. Symlinks have their own
// group changed, not their target's.
func SetGroupTree(root string, gid int) error {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, -1, gid)
	})
	if err != nil {
		return fmt.Errorf("setting group on %s: %w", root, err)
	}
	return nil
}

// SetReadWriteTree forces owner read/write onto every entry below
// root (and root itself), leaving other bits intact. Symlinks are
// skipped: their modes are not meaningful.
func SetReadWriteTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return os.Chmod(path, info.Mode().Perm()|0o600)
	})
}
