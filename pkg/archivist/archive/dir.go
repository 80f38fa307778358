package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/checksum"
	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/fsutil"
	"github.com/scidata-tools/archivist/pkg/archivist/tgz"
)

// Dir is a handle on a published archive directory of either schema
// generation.
type Dir struct {
	path   string
	layout layout
	md     *core.Metadata

	// Logger receives progress and verification-failure lines.
	Logger zerolog.Logger
}

// Open loads the archive directory at path, auto-detecting the
// on-disk schema, newest first.
func Open(dirPath string) (*Dir, error) {
	abs, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, &core.StructuralError{Path: abs, Reason: "not a directory", Cause: err}
	}
	l, err := detectLayout(abs)
	if err != nil {
		return nil, err
	}
	md, err := loadMetadata(abs, l)
	if err != nil {
		return nil, err
	}
	return &Dir{path: abs, layout: l, md: md, Logger: zerolog.Nop()}, nil
}

// Path returns the archive directory path.
func (d *Dir) Path() string { return d.path }

// Metadata returns the archive's descriptor record.
func (d *Dir) Metadata() *core.Metadata { return d.md }

// Kind returns the archive kind (compressed or copy).
func (d *Dir) Kind() core.ArchiveKind { return d.md.Kind() }

// checksumFile returns the aggregate manifest path, accounting for
// the copy-archive filename variant.
func (d *Dir) checksumFile() string {
	p := filepath.Join(d.path, d.layout.metaDir, d.layout.checksumFile)
	if _, err := os.Stat(p); err != nil && d.layout.metaDir == MetadataDirName {
		alt := filepath.Join(d.path, d.layout.metaDir, CopyChecksumFileName)
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}
	return p
}

// List returns the archive members in manifest order: top-level files
// first, then the contents of each subarchive in subarchive order.
// The projection is rebuilt from the manifests on every call.
func (d *Dir) List() ([]core.Member, error) {
	var members []core.Member

	aggregate, err := checksum.ReadManifestFile(d.checksumFile())
	if err != nil {
		return nil, &core.StructuralError{Path: d.path, Reason: "no aggregate checksum manifest", Cause: err}
	}
	inFiles := make(map[string]bool, len(d.md.Files))
	for _, f := range d.md.Files {
		inFiles[f] = true
	}
	for _, e := range aggregate {
		if inFiles[e.Path] {
			members = append(members, core.Member{
				Path:       path.Join(d.md.Name, e.Path),
				Subarchive: "file",
				MD5:        e.MD5,
			})
		}
	}

	for _, sub := range d.md.Subarchives {
		manifest := filepath.Join(d.path, strings.TrimSuffix(sub, ".tar.gz")+".md5")
		entries, err := checksum.ReadManifestFile(manifest)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			members = append(members, core.Member{
				Path:       e.Path,
				Subarchive: filepath.Join(d.path, sub),
				MD5:        e.MD5,
			})
		}
	}
	return members, nil
}

// Search matches members against shell-style patterns: name against
// the basename only, pathPattern against the full member path. Either
// may be empty; an empty pair matches nothing.
func (d *Dir) Search(name, pathPattern string, caseInsensitive bool) ([]core.Member, error) {
	if name == "" && pathPattern == "" {
		return nil, nil
	}
	if caseInsensitive {
		name = strings.ToLower(name)
		pathPattern = strings.ToLower(pathPattern)
	}
	members, err := d.List()
	if err != nil {
		return nil, err
	}
	var matches []core.Member
	for _, m := range members {
		p := m.Path
		if caseInsensitive {
			p = strings.ToLower(p)
		}
		if name != "" && fsutil.Fnmatch(name, path.Base(p)) {
			matches = append(matches, m)
			continue
		}
		if pathPattern != "" && fsutil.Fnmatch(pathPattern, p) {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// ExtractFiles pulls every non-directory member matching pattern
// (against basename or full path) out of the archive into extractDir.
// With keepPath the member's leading directories are recreated;
// otherwise files land flat in extractDir. Existing destinations are
// skipped with a warning. Every extracted file is checksum-verified.
func (d *Dir) ExtractFiles(pattern, extractDir string, keepPath bool) error {
	if extractDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		extractDir = wd
	}
	matches, err := d.Search(pattern, pattern, false)
	if err != nil {
		return err
	}
	for _, m := range matches {
		dest := filepath.Join(extractDir, path.Base(m.Path))
		if keepPath {
			dest = filepath.Join(extractDir, filepath.FromSlash(m.Path))
		}
		if _, err := os.Lstat(dest); err == nil {
			d.Logger.Warn().Str("path", dest).Msg("already exists, skipping")
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if m.Subarchive == "file" {
			src := filepath.Join(d.path, path.Base(m.Path))
			d.Logger.Info().Str("path", m.Path).Msg("extracting")
			if err := fsutil.CopyFile(src, dest); err != nil {
				return err
			}
		} else if err := d.extractMember(m, dest); err != nil {
			return err
		}
		if info, err := os.Stat(dest); err == nil {
			_ = os.Chmod(dest, info.Mode().Perm()|0o600)
		}
		sum, err := checksum.File(dest)
		if err != nil {
			return err
		}
		if sum != m.MD5 {
			return &core.IntegrityError{Path: m.Path, Reason: "MD5 check failed during extraction"}
		}
	}
	return nil
}

func (d *Dir) extractMember(m core.Member, dest string) error {
	found := false
	err := tgz.Scan(m.Subarchive, func(hdr *tar.Header, tr *tar.Reader) error {
		if strings.TrimSuffix(hdr.Name, "/") != m.Path || hdr.Typeflag != tar.TypeReg {
			return nil
		}
		found = true
		d.Logger.Info().
			Str("path", m.Path).
			Str("size", humanize.IBytes(uint64(hdr.Size))).
			Msg("extracting")
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Chmod(dest, hdr.FileInfo().Mode().Perm())
	})
	if err != nil {
		return err
	}
	if !found {
		return &core.IntegrityError{Path: m.Path, Reason: "member missing from subarchive"}
	}
	return nil
}

// Unpack restores the archive under extractDir, which must already
// exist. The returned path is the restored tree. Verification runs
// every per-subarchive manifest (never the aggregate) against the
// restored content and raises on the first mismatch.
func (d *Dir) Unpack(extractDir string, verify, setReadWrite bool) (string, error) {
	if extractDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		extractDir = wd
	}
	extractDir, err := filepath.Abs(extractDir)
	if err != nil {
		return "", err
	}

	// Pre-flight: every failure here happens before any mutation.
	info, err := os.Stat(extractDir)
	if err != nil || !info.IsDir() {
		return "", &core.PreflightError{Path: extractDir, Reason: "destination doesn't exist or is not a directory"}
	}
	target := filepath.Join(extractDir, d.md.Name)
	if _, err := os.Lstat(target); err == nil {
		return "", &core.PreflightError{Path: target, Reason: "would overwrite existing directory in destination"}
	}
	if d.md.Flags.HasSymlinks && !fsutil.SupportsSymlinks(extractDir) {
		return "", &core.PreflightError{Path: extractDir, Reason: "archive contains symlinks but destination filesystem cannot create them"}
	}
	if d.md.Flags.HasCaseSensitiveFilenames && !fsutil.IsCaseSensitive(extractDir) {
		return "", &core.PreflightError{Path: extractDir, Reason: "archive contains case-colliding names but destination filesystem is case-insensitive"}
	}

	if err := os.Mkdir(target, 0o755); err != nil {
		return "", err
	}
	for _, f := range d.md.Files {
		d.Logger.Info().Str("file", f).Msg("copying")
		if err := fsutil.CopyFile(filepath.Join(d.path, f), filepath.Join(target, f)); err != nil {
			return "", err
		}
	}

	volumes := make([]string, 0, len(d.md.Subarchives))
	for _, sub := range d.md.Subarchives {
		volumes = append(volumes, filepath.Join(d.path, sub))
	}
	if err := tgz.ExtractAll(volumes, extractDir, d.Logger); err != nil {
		return "", err
	}

	if verify {
		d.Logger.Info().Msg("verifying checksums")
		for _, sub := range d.md.Subarchives {
			manifest := filepath.Join(d.path, strings.TrimSuffix(sub, ".tar.gz")+".md5")
			if _, err := os.Stat(manifest); err != nil {
				continue
			}
			ok, err := checksum.Verify(manifest, extractDir, d.Logger)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", &core.IntegrityError{Path: manifest, Reason: "checksum verification failed"}
			}
		}
	}

	if err := d.restoreSymlinks(extractDir); err != nil {
		return "", err
	}
	if err := tgz.ApplyAttributes(volumes, extractDir, d.Logger); err != nil {
		return "", err
	}
	if setReadWrite {
		d.Logger.Info().Msg("updating permissions to read-write")
		if err := fsutil.SetReadWriteTree(target); err != nil {
			return "", err
		}
	}
	return target, nil
}

// restoreSymlinks re-creates every link recorded in the symlink
// manifest and confirms each restored path really is a symlink.
// Links are tracked outside the tar stream because broken and
// unresolvable targets do not always round-trip through extraction.
func (d *Dir) restoreSymlinks(extractDir string) error {
	data, err := os.ReadFile(filepath.Join(d.path, d.layout.metaDir, SymlinksFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		linkPath, sub, ok := strings.Cut(line, "\t")
		if !ok {
			return &core.StructuralError{Path: d.path, Reason: fmt.Sprintf("bad symlink manifest line %q", line)}
		}
		target := filepath.Join(extractDir, filepath.FromSlash(linkPath))
		if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if err := d.recreateSymlink(sub, linkPath, target); err != nil {
			return err
		}
		info, err := os.Lstat(target)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			return &core.IntegrityError{Path: linkPath, Reason: "not a symlink after restore"}
		}
	}
	return nil
}

func (d *Dir) recreateSymlink(sub, linkPath, target string) error {
	found := false
	err := tgz.Scan(filepath.Join(d.path, sub), func(hdr *tar.Header, _ *tar.Reader) error {
		if hdr.Typeflag != tar.TypeSymlink || hdr.Name != linkPath {
			return nil
		}
		found = true
		_ = os.Remove(target)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	})
	if err != nil {
		return err
	}
	if !found {
		return &core.IntegrityError{Path: linkPath, Reason: "symlink missing from subarchive " + sub}
	}
	return nil
}

// Verify checks the aggregate manifest against the archive directory
// itself: every subarchive file and copied top-level file must be
// present with a matching digest.
func (d *Dir) Verify() (bool, error) {
	manifest := d.checksumFile()
	if _, err := os.Stat(manifest); err != nil {
		return false, &core.StructuralError{Path: d.path, Reason: "no MD5 checksum file", Cause: err}
	}
	return checksum.Verify(manifest, d.path, d.Logger)
}
