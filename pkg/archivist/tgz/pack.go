// Package tgz builds and extracts the gzip-compressed tar volumes
// that make up a compressed archive. Entries are always added and
// extracted individually, never recursively: traversal order and
// membership belong to the caller, and extraction must tolerate
// directories shared across volumes.
package tgz

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
)

// DefaultCompressLevel matches the historical gzip default.
const DefaultCompressLevel = 6

// PackOptions configures a Pack call.
type PackOptions struct {
	// VolumeSize is the soft per-volume budget in bytes. Zero packs a
	// single volume.
	VolumeSize int64
	// CompressLevel is the gzip level, DefaultCompressLevel when zero.
	CompressLevel int
	// Include, when non-nil, restricts packing to these absolute
	// paths.
	Include map[string]bool
	// Exclude drops these absolute paths.
	Exclude map[string]bool
	// BaseDir is prepended to every archive member name; "." when
	// empty, so the volume always carries a root directory entry.
	BaseDir string

	Logger zerolog.Logger
}

// Result reports what Pack produced.
type Result struct {
	// Volumes is the ordered list of volume paths written.
	Volumes []string
	// Excluded lists root-relative paths skipped because they could
	// not be read.
	Excluded []string
}

type volume struct {
	path    string
	f       *os.File
	gz      *gzip.Writer
	tw      *tar.Writer
	written int64
	// entries counts data entries, excluding the root directory
	// entry, so a fresh volume never rotates before its first member.
	entries int
}

func (v *volume) close() error {
	if err := v.tw.Close(); err != nil {
		return err
	}
	if err := v.gz.Close(); err != nil {
		return err
	}
	return v.f.Close()
}

// Pack streams the walked contents of d into one or more tar.gz
// volumes named from baseName (baseName.tar.gz, or baseName.NN.tar.gz
// when a volume size is set). Permission failures on individual
// entries are logged and skipped; any other failure aborts.
func Pack(d *inspect.Dir, baseName string, opts PackOptions) (*Result, error) {
	level := opts.CompressLevel
	if level == 0 {
		level = DefaultCompressLevel
	}
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = "."
	}
	multi := opts.VolumeSize > 0

	p := &packer{
		dir:      d,
		baseName: baseName,
		baseDir:  baseDir,
		level:    level,
		opts:     opts,
		multi:    multi,
		inodes:   make(map[uint64]string),
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return &p.result, nil
}

type packer struct {
	dir      *inspect.Dir
	baseName string
	baseDir  string
	level    int
	opts     PackOptions
	multi    bool

	vol    *volume
	index  int
	inodes map[uint64]string // inode -> first member name, for hard links
	result Result
}

func (p *packer) run() (err error) {
	defer func() {
		if p.vol != nil {
			cerr := p.vol.close()
			if err == nil {
				err = cerr
			}
		}
	}()
	if err := p.openVolume(); err != nil {
		return err
	}
	walkErr := p.dir.Walk(func(path string) error {
		if p.opts.Include != nil && !p.opts.Include[path] {
			return nil
		}
		if p.opts.Exclude[path] {
			return nil
		}
		return p.add(path)
	})
	return walkErr
}

// openVolume starts the next volume and gives it a non-recursive
// directory entry for the tree root under BaseDir, so every archive
// has a root entry regardless of how the split falls.
func (p *packer) openVolume() error {
	name := p.baseName + ".tar.gz"
	if p.multi {
		name = fmt.Sprintf("%s.%02d.tar.gz", p.baseName, p.index)
	}
	f, err := os.Create(name)
	if err != nil {
		return &core.StructuralError{Path: name, Reason: "cannot create volume", Cause: err}
	}
	gz, err := gzip.NewWriterLevel(f, p.level)
	if err != nil {
		_ = f.Close()
		return err
	}
	p.vol = &volume{path: name, f: f, gz: gz, tw: tar.NewWriter(gz)}
	p.result.Volumes = append(p.result.Volumes, name)
	p.index++

	info, err := os.Stat(p.dir.Path())
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = p.baseDir + "/"
	hdr.Uname, hdr.Gname = p.dir.OwnerGroup(p.dir.Path())
	return p.vol.tw.WriteHeader(hdr)
}

func (p *packer) rotate() error {
	if err := p.vol.close(); err != nil {
		return err
	}
	p.vol = nil
	return p.openVolume()
}

func (p *packer) add(path string) error {
	c := p.dir.Class(path)
	arcname := filepath.ToSlash(filepath.Join(p.baseDir, p.dir.Rel(path)))

	if p.multi && p.vol.entries > 0 && p.vol.written+c.Size > p.opts.VolumeSize {
		if err := p.rotate(); err != nil {
			return err
		}
	}
	if p.multi && c.Size > p.opts.VolumeSize {
		// Soft budget: an oversized entry still goes into a single
		// volume of its own.
		p.opts.Logger.Warn().
			Str("path", p.dir.Rel(path)).
			Str("size", humanize.IBytes(uint64(c.Size))).
			Msg("entry exceeds volume size")
	}

	err := p.addEntry(path, arcname, c)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			rel := p.dir.Rel(path)
			p.opts.Logger.Warn().Str("path", rel).Msg("unreadable, excluded from archive")
			p.result.Excluded = append(p.result.Excluded, rel)
			return nil
		}
		return &core.StructuralError{Path: p.dir.Path(),
			Reason: fmt.Sprintf("unable to add %q to archive", p.dir.Rel(path)), Cause: err}
	}
	p.vol.entries++
	p.vol.written += c.Size
	return nil
}

func (p *packer) addEntry(path, arcname string, c *inspect.EntryClass) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	link := ""
	if c.IsSymlink {
		link = c.Target
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = arcname
	hdr.Format = tar.FormatPAX
	if c.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uid = int(c.UID)
	hdr.Gid = int(c.GID)
	hdr.Uname, hdr.Gname = p.dir.OwnerGroup(path)

	if c.HardLinked() {
		if first, seen := p.inodes[c.Inode]; seen {
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = first
			hdr.Size = 0
			return p.vol.tw.WriteHeader(hdr)
		}
		p.inodes[c.Inode] = arcname
	}

	if !c.IsRegular() {
		return p.vol.tw.WriteHeader(hdr)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := p.vol.tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(p.vol.tw, f); err != nil {
		return fmt.Errorf("writing %s: %w", arcname, err)
	}
	return nil
}

// List returns the member names of a volume in stream order.
func List(volumePath string) ([]string, error) {
	var names []string
	err := Scan(volumePath, func(hdr *tar.Header, _ *tar.Reader) error {
		names = append(names, hdr.Name)
		return nil
	})
	return names, err
}

// Headers returns copies of every member header of a volume.
func Headers(volumePath string) ([]tar.Header, error) {
	var headers []tar.Header
	err := Scan(volumePath, func(hdr *tar.Header, _ *tar.Reader) error {
		headers = append(headers, *hdr)
		return nil
	})
	return headers, err
}

// Scan opens a volume and hands every entry header (and its reader,
// positioned at the entry data) to visit in stream order.
func Scan(volumePath string, visit func(*tar.Header, *tar.Reader) error) error {
	f, err := os.Open(volumePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return &core.StructuralError{Path: volumePath, Reason: "not a gzip stream", Cause: err}
	}
	defer func() { _ = gz.Close() }()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &core.StructuralError{Path: volumePath, Reason: "corrupt tar stream", Cause: err}
		}
		if err := visit(hdr, tr); err != nil {
			return err
		}
	}
}
