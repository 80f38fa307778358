// Package archivist bundles the pieces of the archiving toolkit into
// one convenience surface: classify a directory, build a compressed
// or copy archive from it, and list, search, extract, verify or
// unpack an existing archive. The subpackages carry the machinery;
// everything here is thin glue the CLI also uses.
package archivist

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/archive"
	"github.com/scidata-tools/archivist/pkg/archivist/copier"
	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/fsutil"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
)

// Version is the tool version recorded in archive metadata.
const Version = core.Version

// MakeOptions tunes MakeArchive.
type MakeOptions struct {
	// OutDir receives the archive; the working directory when empty.
	OutDir string
	// VolumeSize, when positive, splits subarchives into volumes of
	// roughly this many bytes.
	VolumeSize int64
	// CompressLevel is the gzip level (default 6).
	CompressLevel int
	// Group, when set, names the group the published archive tree is
	// chowned to. The name must resolve before any work starts.
	Group string

	Logger zerolog.Logger
}

// MakeArchive builds a compressed archive of the directory at source,
// choosing the subarchive layout from its structural kind: one
// subarchive for a generic tree, one per top-level directory for a
// multi-subdir tree, and per-project subarchives plus a "processing"
// subarchive for a multi-project tree. Archiving an existing archive
// is refused.
func MakeArchive(source string, opts MakeOptions) (*archive.Dir, error) {
	kind, err := Classify(source)
	if err != nil {
		return nil, err
	}
	if kind == Archive || kind == CopyArchive {
		return nil, &core.PreflightError{Path: source, Reason: "directory is already an archive"}
	}
	gid := -1
	if opts.Group != "" {
		gid, err = fsutil.LookupGroupID(opts.Group)
		if err != nil {
			return nil, &core.PreflightError{Path: source, Reason: "unknown group " + opts.Group}
		}
	}
	d, err := inspect.NewDir(source)
	if err != nil {
		return nil, err
	}
	bo := archive.BuilderOptions{
		OutDir:        opts.OutDir,
		VolumeSize:    opts.VolumeSize,
		CompressLevel: opts.CompressLevel,
		Logger:        OpLogger(opts.Logger, "archive", source),
	}
	switch kind {
	case MultiSubdir:
		subdirs, err := topLevelDirs(d.Path())
		if err != nil {
			return nil, err
		}
		bo.SubDirs = subdirs
	case MultiProject:
		projects, err := ProjectDirs(d.Path())
		if err != nil {
			return nil, err
		}
		misc, err := ProcessingArtifacts(d.Path())
		if err != nil {
			return nil, err
		}
		bo.SubDirs = projects
		bo.MiscObjects = misc
		bo.MiscName = "processing"
		bo.ExtraFiles = []string{ProjectsInfoFileName}
	}
	a, err := archive.Make(d, bo)
	if err != nil {
		return nil, err
	}
	if gid >= 0 {
		if err := fsutil.SetGroupTree(a.Path(), gid); err != nil {
			return a, err
		}
	}
	return a, nil
}

// topLevelDirs lists the top-level directories, following symlinks so
// a dirlink counts the same way the classifier counts it.
func topLevelDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if info, err := os.Stat(filepath.Join(dir, e.Name())); err == nil && info.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Copy replicates the directory at source to dest as a copy archive.
func Copy(source, dest string, opts copier.Options) (*archive.Dir, error) {
	d, err := inspect.NewDir(source)
	if err != nil {
		return nil, err
	}
	opts.Logger = OpLogger(opts.Logger, "copy", source)
	return copier.Copy(d, dest, opts)
}

// Unpack restores the archive at archiveDir under destDir and returns
// the path and structural kind of the restored tree.
func Unpack(archiveDir, destDir string, verify, setReadWrite bool, log zerolog.Logger) (string, Kind, error) {
	d, err := archive.Open(archiveDir)
	if err != nil {
		return "", Generic, err
	}
	d.Logger = OpLogger(log, "unpack", archiveDir)
	restored, err := d.Unpack(destDir, verify, setReadWrite)
	if err != nil {
		return "", Generic, err
	}
	kind, err := Classify(restored)
	if err != nil {
		return restored, Generic, err
	}
	return restored, kind, nil
}

// VerifyArchive checks the archive at path against its aggregate
// checksum manifest. Each failure is logged; the bool is the overall
// verdict.
func VerifyArchive(path string, log zerolog.Logger) (bool, error) {
	d, err := archive.Open(path)
	if err != nil {
		return false, err
	}
	d.Logger = OpLogger(log, "verify", path)
	return d.Verify()
}

// VerifyCopy compares a copy archive (or any directory) against a
// source directory.
func VerifyCopy(source, copyDir string, opts copier.CompareOptions) (bool, error) {
	return copier.CompareDirs(source, copyDir, opts)
}

// List returns every member of the archive at path.
func List(path string) ([]core.Member, error) {
	d, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	return d.List()
}

// Search returns the members of the archive at path whose basename
// matches name and/or whose full path matches pathPattern, using
// shell-style globs.
func Search(path, name, pathPattern string, caseInsensitive bool) ([]core.Member, error) {
	d, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	return d.Search(name, pathPattern, caseInsensitive)
}

// ExtractFiles pulls the members of the archive at path matching
// pattern into extractDir, keeping their interior paths when keepPath
// is set.
func ExtractFiles(path, pattern, extractDir string, keepPath bool, log zerolog.Logger) error {
	d, err := archive.Open(path)
	if err != nil {
		return err
	}
	d.Logger = OpLogger(log, "extract", path)
	return d.ExtractFiles(pattern, extractDir, keepPath)
}
