package archive

import (
	"archive/tar"
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/checksum"
	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/fsutil"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
	"github.com/scidata-tools/archivist/pkg/archivist/tgz"
)

// TimeLayout is the human-oriented timestamp format used inside
// metadata records.
const TimeLayout = "2006-01-02 15:04:05"

// BuilderOptions configures Make.
type BuilderOptions struct {
	// OutDir receives the archive directory; the working directory
	// when empty.
	OutDir string
	// SubDirs, when set, archives each named subdirectory separately
	// instead of packing the whole tree into one subarchive.
	SubDirs []string
	// MiscObjects are extra top-level entries gathered into one
	// additional subarchive named MiscName. Ignored without SubDirs.
	MiscObjects []string
	// MiscName names the miscellaneous subarchive; "miscellaneous"
	// when empty.
	MiscName string
	// ExtraFiles are copied verbatim into the archive directory
	// without packing.
	ExtraFiles []string
	// VolumeSize, when positive, builds multi-volume subarchives with
	// this soft byte budget per volume.
	VolumeSize int64
	// CompressLevel is the gzip level (default 6).
	CompressLevel int

	Logger zerolog.Logger
}

// Make builds a compressed archive of d under a staging directory and
// publishes it by rename. The returned handle points at the final
// archive directory.
func Make(d *inspect.Dir, opts BuilderOptions) (*Dir, error) {
	outDir := opts.OutDir
	if outDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		outDir = wd
	}
	outDir, err := filepath.Abs(outDir)
	if err != nil {
		return nil, err
	}
	name := d.Basename()
	final := filepath.Join(outDir, name+Suffix)
	part := filepath.Join(outDir, name+StagingSuffix)
	if _, err := os.Lstat(final); err == nil {
		return nil, &core.PreflightError{Path: final, Reason: "archive directory already exists"}
	}
	if _, err := os.Lstat(part); err == nil {
		return nil, &core.PreflightError{Path: part,
			Reason: "staging directory already exists, remove it before retrying"}
	}

	b := &builder{dir: d, part: part, name: name, opts: opts, log: opts.Logger}
	if err := b.build(); err != nil {
		return nil, err
	}

	// Rename-on-success is the sole atomicity guarantee: a crash
	// before this point leaves only the .part directory behind.
	if err := os.Rename(part, final); err != nil {
		return nil, err
	}
	if err := fsutil.CopyStat(d.Path(), final); err != nil {
		return nil, err
	}
	if info, err := os.Stat(final); err == nil {
		_ = os.Chmod(final, info.Mode().Perm()|0o600)
	}
	return Open(final)
}

type builder struct {
	dir  *inspect.Dir
	part string
	name string
	opts BuilderOptions
	log  zerolog.Logger

	md       core.Metadata
	excluded []string
}

func (b *builder) build() error {
	metaDir := filepath.Join(b.part, MetadataDirName)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return err
	}

	srcInfo, err := os.Stat(b.dir.Path())
	if err != nil {
		return err
	}
	level := b.opts.CompressLevel
	if level == 0 {
		level = tgz.DefaultCompressLevel
	}
	b.md = core.Metadata{
		Name:             b.name,
		Source:           b.dir.Path(),
		SourceDate:       srcInfo.ModTime().Format(TimeLayout),
		SourceSize:       b.dir.Size(),
		Flags:            b.dir.Flags(),
		Type:             core.Compressed.String(),
		Subarchives:      []string{},
		Files:            []string{},
		User:             CurrentUser(),
		MultiVolume:      b.opts.VolumeSize > 0,
		CompressionLevel: &level,
		Version:          core.Version,
	}
	if b.opts.VolumeSize > 0 {
		b.md.VolumeSize = humanize.IBytes(uint64(b.opts.VolumeSize))
	}

	if err := WriteOwnershipManifest(b.dir, filepath.Join(metaDir, ManifestFileName)); err != nil {
		return err
	}
	if err := b.packAll(); err != nil {
		return err
	}
	if err := b.copyExtraFiles(); err != nil {
		return err
	}
	if err := b.writeSymlinkManifest(metaDir); err != nil {
		return err
	}
	if err := b.writeExcluded(metaDir); err != nil {
		return err
	}
	if err := b.writeSubarchiveManifests(); err != nil {
		return err
	}
	if err := b.writeAggregateManifest(metaDir); err != nil {
		return err
	}

	b.md.CreationDate = time.Now().Format(TimeLayout)
	if err := WriteMetadata(b.part, &b.md); err != nil {
		return err
	}
	return b.writeReports()
}

// WriteOwnershipManifest records "owner\tgroup\tpath" for every
// entry of d, directories carrying a trailing slash. Unknown uid/gid
// fall back to their numeric form.
func WriteOwnershipManifest(d *inspect.Dir, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	err = d.Walk(func(p string) error {
		owner, group := d.OwnerGroup(p)
		rel := d.Rel(p)
		if d.Class(p).IsDir() {
			rel += "/"
		}
		_, werr := fmt.Fprintf(w, "%s\t%s\t%s\n", owner, group, rel)
		return werr
	})
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (b *builder) packOptions(baseDir string, include map[string]bool) tgz.PackOptions {
	return tgz.PackOptions{
		VolumeSize:    b.opts.VolumeSize,
		CompressLevel: b.opts.CompressLevel,
		BaseDir:       baseDir,
		Include:       include,
		Logger:        b.log,
	}
}

func (b *builder) packAll() error {
	if len(b.opts.SubDirs) == 0 {
		res, err := tgz.Pack(b.dir, filepath.Join(b.part, b.name), b.packOptions(b.name, nil))
		if err != nil {
			return err
		}
		b.record(res)
		return nil
	}
	for _, s := range b.opts.SubDirs {
		dd, err := inspect.NewDir(filepath.Join(b.dir.Path(), s))
		if err != nil {
			return err
		}
		baseDir := filepath.Join(b.name, s)
		res, err := tgz.Pack(dd, filepath.Join(b.part, s), b.packOptions(baseDir, nil))
		if err != nil {
			return err
		}
		b.record(res)
	}
	return b.packMisc()
}

// packMisc gathers the leftover top-level objects into one extra
// subarchive.
func (b *builder) packMisc() error {
	if len(b.opts.MiscObjects) == 0 {
		return nil
	}
	miscName := b.opts.MiscName
	if miscName == "" {
		miscName = "miscellaneous"
	}
	include := make(map[string]bool)
	for _, o := range b.opts.MiscObjects {
		abs := filepath.Join(b.dir.Path(), o)
		include[abs] = true
		c := b.dir.Class(abs)
		if !c.IsDir() {
			continue
		}
		sub, err := inspect.NewDir(abs)
		if err != nil {
			return err
		}
		_ = sub.Walk(func(p string) error {
			include[p] = true
			return nil
		})
	}
	res, err := tgz.Pack(b.dir, filepath.Join(b.part, miscName), b.packOptions(b.name, include))
	if err != nil {
		return err
	}
	b.record(res)
	return nil
}

func (b *builder) record(res *tgz.Result) {
	for _, v := range res.Volumes {
		b.md.Subarchives = append(b.md.Subarchives, filepath.Base(v))
	}
	b.excluded = append(b.excluded, res.Excluded...)
}

func (b *builder) copyExtraFiles() error {
	for _, f := range b.opts.ExtraFiles {
		src := f
		if !filepath.IsAbs(src) {
			src = filepath.Join(b.dir.Path(), f)
		}
		base := filepath.Base(src)
		if err := fsutil.CopyFile(src, filepath.Join(b.part, base)); err != nil {
			return err
		}
		b.md.Files = append(b.md.Files, base)
	}
	return nil
}

// writeSymlinkManifest records "path\tsubarchive" for every symlink
// carried inside a subarchive, so the unpack engine can restore and
// re-check links explicitly instead of trusting generic extraction.
func (b *builder) writeSymlinkManifest(metaDir string) error {
	var lines []string
	for _, sub := range b.md.Subarchives {
		headers, err := tgz.Headers(filepath.Join(b.part, sub))
		if err != nil {
			return err
		}
		for _, hdr := range headers {
			if hdr.Typeflag == tar.TypeSymlink {
				lines = append(lines, hdr.Name+"\t"+sub)
			}
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return os.WriteFile(filepath.Join(metaDir, SymlinksFileName),
		[]byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func (b *builder) writeExcluded(metaDir string) error {
	if len(b.excluded) == 0 {
		return nil
	}
	return os.WriteFile(filepath.Join(metaDir, ExcludedFileName),
		[]byte(strings.Join(b.excluded, "\n")+"\n"), 0o644)
}

// writeSubarchiveManifests writes one <base>.md5 per subarchive,
// listing every regular file inside it, checksummed from the source
// tree. Member names are rooted at the archive name, so the source
// path is resolved against the source's parent directory.
func (b *builder) writeSubarchiveManifests() error {
	parent := b.dir.ParentDir()
	for _, sub := range b.md.Subarchives {
		headers, err := tgz.Headers(filepath.Join(b.part, sub))
		if err != nil {
			return err
		}
		var entries []checksum.Entry
		for _, hdr := range headers {
			if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeLink {
				continue
			}
			src := filepath.Join(parent, filepath.FromSlash(hdr.Name))
			sum, err := checksum.File(src)
			if err != nil {
				return fmt.Errorf("checksumming %s: %w", src, err)
			}
			entries = append(entries, checksum.Entry{MD5: sum, Path: hdr.Name})
		}
		md5file := strings.TrimSuffix(sub, ".tar.gz") + ".md5"
		if err := checksum.WriteManifestFile(filepath.Join(b.part, md5file), entries); err != nil {
			return err
		}
	}
	return nil
}

// writeAggregateManifest covers the subarchive files and the copied
// top-level files themselves, not their interior contents.
func (b *builder) writeAggregateManifest(metaDir string) error {
	var entries []checksum.Entry
	for _, f := range append(append([]string{}, b.md.Subarchives...), b.md.Files...) {
		sum, err := checksum.File(filepath.Join(b.part, f))
		if err != nil {
			return err
		}
		entries = append(entries, checksum.Entry{MD5: sum, Path: f})
	}
	return checksum.WriteManifestFile(filepath.Join(metaDir, ChecksumFileName), entries)
}

// CurrentUser returns the login name of the invoking user, or the
// empty string when it cannot be determined.
func CurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
