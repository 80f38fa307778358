// Package archive implements the on-disk archive directory: the
// staged builder, the metadata model with its dual-format loader, and
// the handle used to list, search, extract from, verify and unpack an
// existing archive.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
)

// On-disk names for the current layout.
const (
	MetadataDirName  = "ARCHIVE_METADATA"
	MetadataFileName = "archiver_metadata.json"
	ChecksumFileName = "archive_checksums.md5"
	// CopyChecksumFileName is used by copy archives in place of
	// ChecksumFileName.
	CopyChecksumFileName = "checksums.md5"
	ManifestFileName     = "manifest"
	SymlinksFileName     = "symlinks"
	ExcludedFileName     = "excluded.txt"

	// Copy archives record their symlink inventory in three detail
	// files, one line per link: "path\ttarget\tresolved" with "?" in
	// the last column when the target does not resolve.
	BrokenSymlinksFileName       = "broken_symlinks"
	UnresolvableSymlinksFileName = "unresolvable_symlinks"

	FilelistFileName = "ARCHIVE_FILELIST.txt"
	TreeFileName     = "ARCHIVE_TREE.txt"
	ReadmeFileName   = "ARCHIVE_README.txt"

	// Suffix carried by a published archive directory.
	Suffix = ".archive"
	// StagingSuffix marks an in-progress build; a crash leaves at
	// most one of these behind, never a half-valid archive.
	StagingSuffix = ".archive.part"
)

// layout describes one on-disk schema generation. Detection walks the
// table in order, newest first.
type layout struct {
	metaDir      string
	jsonFile     string
	checksumFile string
}

var layouts = []layout{
	{MetadataDirName, MetadataFileName, ChecksumFileName},
	{".ngsarchiver", "archive_metadata.json", "archive.md5"},
	{".ngsarchive", "archive_contents.json", "archive.md5"},
}

// detectLayout probes path for each known schema generation.
func detectLayout(path string) (layout, error) {
	for _, l := range layouts {
		jsonPath := filepath.Join(path, l.metaDir, l.jsonFile)
		if _, err := os.Stat(jsonPath); err == nil {
			return l, nil
		}
	}
	return layout{}, &core.StructuralError{Path: path, Reason: "not an archive directory"}
}

func loadMetadata(path string, l layout) (*core.Metadata, error) {
	jsonPath := filepath.Join(path, l.metaDir, l.jsonFile)
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, &core.StructuralError{Path: path, Reason: "failed to load archive metadata", Cause: err}
	}
	md := &core.Metadata{}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, &core.StructuralError{Path: path,
			Reason: fmt.Sprintf("failed to parse %s", l.jsonFile), Cause: err}
	}
	if len(md.Subarchives) == 0 && len(md.LegacyArchives) > 0 {
		md.Subarchives = md.LegacyArchives
	}
	if md.Name == "" {
		md.Name = strings.TrimSuffix(filepath.Base(path), Suffix)
	}
	return md, nil
}

// DetectKind reports whether path carries one of the known metadata
// layouts and, if so, which kind of archive it holds. A directory
// with an unparseable metadata record is not treated as an archive.
func DetectKind(path string) (core.ArchiveKind, bool) {
	l, err := detectLayout(path)
	if err != nil {
		return core.Compressed, false
	}
	md, err := loadMetadata(path, l)
	if err != nil {
		return core.Compressed, false
	}
	return md.Kind(), true
}

// WriteMetadata serialises md into dir's metadata area as indented
// JSON, in the newest on-disk layout.
func WriteMetadata(dir string, md *core.Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(dir, MetadataDirName, MetadataFileName), data, 0o644)
}
