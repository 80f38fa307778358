package tgz

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
)

// ExtractAll extracts every entry of every volume, in volume order,
// under dest. Extraction is deliberately manual rather than a
// library convenience:
//
//   - the same directory entry may appear in several volumes and must
//     not fail on "already exists";
//   - a stream-recorded mode could make a directory read-only before
//     a later volume adds entries beneath it, so directories are
//     created with a permissive default mode and entry attributes are
//     not applied here at all (see ApplyAttributes).
func ExtractAll(volumes []string, dest string, log zerolog.Logger) error {
	for _, vol := range volumes {
		log.Info().Str("volume", filepath.Base(vol)).Msg("extracting")
		err := Scan(vol, func(hdr *tar.Header, tr *tar.Reader) error {
			if err := extractEntry(hdr, tr, dest); err != nil {
				return &core.StructuralError{Path: vol,
					Reason: fmt.Sprintf("extracting %q", hdr.Name), Cause: err}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(hdr *tar.Header, tr *tar.Reader, dest string) error {
	target, err := safeJoin(dest, hdr.Name)
	if err != nil {
		return err
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if _, err := os.Lstat(target); err == nil {
			// Duplicate across volumes.
			return nil
		}
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		source, err := safeJoin(dest, hdr.Linkname)
		if err != nil {
			return err
		}
		if _, err := os.Lstat(target); err == nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Link(source, target)
	default:
		// Device nodes, fifos and the like are not part of the
		// archive contract.
		return fmt.Errorf("unsupported entry type %q", hdr.Typeflag)
	}
}

// safeJoin resolves a member name under dest, rejecting absolute
// names and parent-directory escapes.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal member path %q", name)
	}
	return filepath.Join(dest, clean), nil
}

// ApplyAttributes re-applies recorded modes and mtimes in a second
// full pass over every volume, after all content is extracted, so a
// later volume cannot clobber an earlier one's corrections. Regular
// files are attributed first; directories afterwards, deepest first,
// because touching a directory before its contents are final would
// invalidate its mtime.
func ApplyAttributes(volumes []string, dest string, log zerolog.Logger) error {
	type dirAttr struct {
		target string
		mode   os.FileMode
		mtime  time.Time
		depth  int
	}
	var dirs []dirAttr

	for _, vol := range volumes {
		log.Info().Str("volume", filepath.Base(vol)).Msg("updating attributes")
		err := Scan(vol, func(hdr *tar.Header, _ *tar.Reader) error {
			target, err := safeJoin(dest, hdr.Name)
			if err != nil {
				return err
			}
			switch hdr.Typeflag {
			case tar.TypeDir:
				dirs = append(dirs, dirAttr{
					target: target,
					mode:   hdr.FileInfo().Mode().Perm(),
					mtime:  hdr.ModTime,
					depth:  strings.Count(target, string(filepath.Separator)),
				})
			case tar.TypeReg, tar.TypeLink:
				if err := os.Chmod(target, hdr.FileInfo().Mode().Perm()); err != nil {
					return err
				}
				if err := os.Chtimes(target, time.Now(), hdr.ModTime); err != nil {
					return err
				}
			case tar.TypeSymlink:
				// Link text carries no mode; mtime applied where the
				// platform allows setting it without following.
				_ = lutimes(target, hdr.ModTime)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	sort.SliceStable(dirs, func(i, j int) bool { return dirs[i].depth > dirs[j].depth })
	for _, d := range dirs {
		if err := os.Chmod(d.target, d.mode); err != nil {
			return err
		}
		if err := os.Chtimes(d.target, time.Now(), d.mtime); err != nil {
			return err
		}
	}
	return nil
}
