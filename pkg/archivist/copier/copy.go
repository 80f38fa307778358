// Package copier replicates directory trees as copy archives:
// verbatim copies carrying a checksum manifest, symlink inventory,
// and metadata record, with optional symlink transformations for
// filesystems that cannot hold them.
package copier

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/archive"
	"github.com/scidata-tools/archivist/pkg/archivist/checksum"
	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/fsutil"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
)

// Options tunes Copy.
type Options struct {
	// ReplaceSymlinks copies the target content in place of each
	// working file symlink. Directory symlinks cannot be replaced
	// this way and fail the copy.
	ReplaceSymlinks bool

	// TransformBrokenSymlinks writes a regular placeholder file
	// holding the literal link text in place of each broken or
	// unresolvable symlink.
	TransformBrokenSymlinks bool

	// FollowDirlinks materialises directory symlinks as real
	// directories and copies their contents.
	FollowDirlinks bool

	Logger zerolog.Logger
}

// Copy replicates the tree under d to dest as a copy archive. The
// copy is assembled in a ".part" staging directory next to dest,
// compared back against the source, and renamed into place only when
// the comparison passes. A failed copy leaves the staging directory
// behind for inspection; it must be removed before retrying.
func Copy(d *inspect.Dir, dest string, opts Options) (*archive.Dir, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(dest); err == nil {
		return nil, &core.PreflightError{Path: dest, Reason: "destination already exists"}
	}
	part := dest + ".part"
	if _, err := os.Lstat(part); err == nil {
		return nil, &core.PreflightError{Path: part,
			Reason: "staging directory from a previous run exists, remove it before retrying"}
	}
	parent := filepath.Dir(dest)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return nil, &core.PreflightError{Path: parent, Reason: "parent directory does not exist"}
	}

	d.FollowDirlinks = opts.FollowDirlinks
	flags := d.Flags()
	if flags.HasSymlinks && !opts.ReplaceSymlinks && !fsutil.SupportsSymlinks(parent) {
		return nil, &core.PreflightError{Path: parent,
			Reason: "source has symlinks but the target filesystem does not support them"}
	}
	if flags.HasCaseSensitiveFilenames && !fsutil.IsCaseSensitive(parent) {
		return nil, &core.PreflightError{Path: parent,
			Reason: "source has case-sensitive name collisions but the target filesystem is case-insensitive"}
	}

	job := &copyJob{dir: d, part: part, opts: opts, log: opts.Logger}
	if err := job.run(); err != nil {
		return nil, err
	}

	if err := os.Rename(part, dest); err != nil {
		return nil, err
	}
	if err := fsutil.CopyStat(d.Path(), dest); err != nil {
		job.log.Warn().Err(err).Str("path", dest).Msg("failed to restore directory attributes")
	}
	return archive.Open(dest)
}

type copyJob struct {
	dir  *inspect.Dir
	part string
	opts Options
	log  zerolog.Logger

	checks []checksum.Entry
	dirs   []dirAttr
}

type dirAttr struct {
	src, dst string
	depth    int
}

func (j *copyJob) run() error {
	if err := os.Mkdir(j.part, 0o755); err != nil {
		return err
	}
	cerr := &core.CopyError{}
	err := j.dir.Walk(func(p string) error {
		j.copyEntry(p, cerr)
		return nil
	})
	if err != nil {
		return err
	}
	if cerr.Failed() {
		for _, e := range cerr.Entries {
			j.log.Error().Str("path", e.Path).Err(e.Err).Msg("copy failed")
		}
		return cerr
	}
	j.applyDirAttrs()
	if err := j.writeBookkeeping(); err != nil {
		return err
	}
	return j.selfVerify()
}

func (j *copyJob) copyEntry(p string, cerr *core.CopyError) {
	rel := j.dir.Rel(p)
	dst := filepath.Join(j.part, rel)
	c := j.dir.Class(p)
	switch {
	case c.IsDir():
		if err := os.Mkdir(dst, 0o755); err != nil {
			cerr.Add(rel, err)
			return
		}
		j.dirs = append(j.dirs, dirAttr{src: p, dst: dst, depth: strings.Count(rel, "/")})
	case c.IsSymlink:
		j.copySymlink(p, dst, rel, c, cerr)
	case c.Mode.IsRegular():
		if c.Unreadable {
			cerr.Add(rel, errors.New("source file is not readable"))
			return
		}
		if err := fsutil.CopyFile(p, dst); err != nil {
			cerr.Add(rel, err)
			return
		}
		j.addChecksum(rel, dst, cerr)
	default:
		cerr.Add(rel, fmt.Errorf("unsupported file type %s", c.Mode.Type()))
	}
}

func (j *copyJob) copySymlink(p, dst, rel string, c *inspect.EntryClass, cerr *core.CopyError) {
	switch {
	case c.IsDirlink && j.opts.FollowDirlinks:
		// Materialised as a real directory; the walk delivers its
		// contents as ordinary entries.
		if err := os.Mkdir(dst, 0o755); err != nil {
			cerr.Add(rel, err)
			return
		}
		j.dirs = append(j.dirs, dirAttr{src: c.Resolved, dst: dst, depth: strings.Count(rel, "/")})
	case c.Broken || c.Unresolvable:
		switch {
		case j.opts.TransformBrokenSymlinks:
			if err := os.WriteFile(dst, []byte(c.Target), 0o644); err != nil {
				cerr.Add(rel, err)
				return
			}
			j.addChecksum(rel, dst, cerr)
		case j.opts.ReplaceSymlinks:
			cerr.Add(rel, errors.New("cannot replace symlink: target does not resolve"))
		default:
			if err := os.Symlink(c.Target, dst); err != nil {
				cerr.Add(rel, err)
			}
		}
	case j.opts.ReplaceSymlinks:
		if c.IsDirlink {
			cerr.Add(rel, errors.New("cannot replace symlink to a directory"))
			return
		}
		if err := fsutil.CopyFile(c.Resolved, dst); err != nil {
			cerr.Add(rel, err)
			return
		}
		j.addChecksum(rel, dst, cerr)
	default:
		if err := os.Symlink(c.Target, dst); err != nil {
			cerr.Add(rel, err)
		}
	}
}

func (j *copyJob) addChecksum(rel, dst string, cerr *core.CopyError) {
	sum, err := checksum.File(dst)
	if err != nil {
		cerr.Add(rel, err)
		return
	}
	j.checks = append(j.checks, checksum.Entry{MD5: sum, Path: rel})
}

// applyDirAttrs restores directory modes and timestamps deepest
// first, so touching a parent does not disturb an already-restored
// child.
func (j *copyJob) applyDirAttrs() {
	sort.SliceStable(j.dirs, func(a, b int) bool {
		return j.dirs[a].depth > j.dirs[b].depth
	})
	for _, da := range j.dirs {
		if err := fsutil.CopyStat(da.src, da.dst); err != nil {
			j.log.Warn().Err(err).Str("path", da.dst).Msg("failed to restore directory attributes")
		}
	}
}

func (j *copyJob) writeBookkeeping() error {
	metaDir := filepath.Join(j.part, archive.MetadataDirName)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return err
	}
	if err := checksum.WriteManifestFile(
		filepath.Join(metaDir, archive.CopyChecksumFileName), j.checks); err != nil {
		return err
	}
	if err := archive.WriteOwnershipManifest(j.dir,
		filepath.Join(metaDir, archive.ManifestFileName)); err != nil {
		return err
	}
	if err := j.writeSymlinkInventory(metaDir); err != nil {
		return err
	}

	md := core.Metadata{
		Name:         strings.TrimSuffix(filepath.Base(j.part), ".part"),
		Source:       j.dir.Path(),
		SourceSize:   j.dir.Size(),
		Flags:        j.dir.Flags(),
		Type:         core.Copy.String(),
		Subarchives:  []string{},
		Files:        []string{},
		User:         archive.CurrentUser(),
		CreationDate: time.Now().Format(archive.TimeLayout),
		Version:      core.Version,
	}
	if info, err := os.Stat(j.dir.Path()); err == nil {
		md.SourceDate = info.ModTime().Format(archive.TimeLayout)
	}
	if err := archive.WriteMetadata(j.part, &md); err != nil {
		return err
	}
	return j.writeReadme(&md)
}

// writeSymlinkInventory writes the symlinks, broken_symlinks and
// unresolvable_symlinks detail files, each only when it has entries.
func (j *copyJob) writeSymlinkInventory(metaDir string) error {
	write := func(name string, paths []string) error {
		if len(paths) == 0 {
			return nil
		}
		f, err := os.Create(filepath.Join(metaDir, name))
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)
		for _, p := range paths {
			c := j.dir.Class(p)
			resolved := c.Resolved
			if resolved == "" {
				resolved = "?"
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", j.dir.Rel(p), c.Target, resolved); err != nil {
				_ = f.Close()
				return err
			}
		}
		if err := w.Flush(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	if err := write(archive.SymlinksFileName, j.dir.Symlinks()); err != nil {
		return err
	}
	if err := write(archive.BrokenSymlinksFileName, j.dir.BrokenSymlinks()); err != nil {
		return err
	}
	return write(archive.UnresolvableSymlinksFileName, j.dir.UnresolvableSymlinks())
}

func (j *copyJob) writeReadme(md *core.Metadata) error {
	var b strings.Builder
	fmt.Fprintf(&b, "This directory is a copy of\n\n  %s\n\n", md.Source)
	fmt.Fprintf(&b, "made on %s by %s.\n\n", md.CreationDate, md.User)
	b.WriteString("Checksums and supporting records are kept under " +
		archive.MetadataDirName + "/.\n")
	var notes []string
	if j.opts.ReplaceSymlinks {
		notes = append(notes, "file symlinks were replaced by copies of their targets")
	}
	if j.opts.TransformBrokenSymlinks {
		notes = append(notes,
			"broken symlinks were replaced by placeholder files holding the link text")
	}
	if j.opts.FollowDirlinks {
		notes = append(notes,
			"directory symlinks were followed and their contents copied")
	}
	if len(notes) > 0 {
		b.WriteString("\nTransformations applied:\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return os.WriteFile(filepath.Join(j.part, archive.ReadmeFileName),
		[]byte(b.String()), 0o644)
}

// selfVerify compares the staged copy back against the source before
// it is published.
func (j *copyJob) selfVerify() error {
	ok, err := CompareDirs(j.dir.Path(), j.part, CompareOptions{
		FollowSymlinks:    j.opts.ReplaceSymlinks || j.opts.FollowDirlinks,
		AllowPlaceholders: j.opts.TransformBrokenSymlinks,
		IgnorePaths:       bookkeepingPatterns(),
		Logger:            j.log,
	})
	if err != nil {
		return err
	}
	if !ok {
		return &core.IntegrityError{Path: j.part, Reason: "copy does not match source"}
	}
	return nil
}

// bookkeepingPatterns lists the paths a copy archive adds on top of
// the source content.
func bookkeepingPatterns() []string {
	return []string{
		archive.MetadataDirName,
		archive.MetadataDirName + "/*",
		archive.ReadmeFileName,
	}
}
