package core

// ArchiveKind distinguishes the two on-disk archive flavours.
type ArchiveKind int

const (
	// Compressed archives store their content as tar.gz subarchives.
	Compressed ArchiveKind = iota
	// Copy archives are uncompressed filesystem copies with the same
	// metadata and checksum discipline.
	Copy
)

func (k ArchiveKind) String() string {
	if k == Copy {
		return "copy"
	}
	return "compressed"
}

// StructuralFlags captures the filesystem features present in a source
// tree. The unpack and copy engines use them to pre-flight-check a
// destination filesystem before committing to extraction.
type StructuralFlags struct {
	HasSymlinks               bool `json:"has_symlinks"`
	HasBrokenSymlinks         bool `json:"has_broken_symlinks"`
	HasDirlinks               bool `json:"has_dirlinks"`
	HasExternalSymlinks       bool `json:"has_external_symlinks"`
	HasUnresolvableSymlinks   bool `json:"has_unresolvable_symlinks"`
	HasHardLinkedFiles        bool `json:"has_hard_linked_files"`
	HasUnreadableFiles        bool `json:"has_unreadable_files"`
	HasCaseSensitiveFilenames bool `json:"has_case_sensitive_filenames"`
}

// Metadata is the descriptor record written once, atomically, into an
// archive directory. Immutable after publication.
//
// CompressionLevel is nil for Copy archives; the absence of the
// "compression_level" key is the on-disk discriminant between the two
// archive kinds.
type Metadata struct {
	Name             string          `json:"name"`
	Source           string          `json:"source"`
	SourceDate       string          `json:"source_date,omitempty"`
	SourceSize       int64           `json:"source_size,omitempty"`
	Flags            StructuralFlags `json:"flags"`
	Type             string          `json:"type,omitempty"`
	Subarchives      []string        `json:"subarchives"`
	Files            []string        `json:"files"`
	User             string          `json:"user"`
	CreationDate     string          `json:"creation_date"`
	MultiVolume      bool            `json:"multi_volume"`
	VolumeSize       string          `json:"volume_size,omitempty"`
	CompressionLevel *int            `json:"compression_level,omitempty"`
	Version          string          `json:"archiver_version"`

	// LegacyArchives holds the "archives" key used by the oldest
	// on-disk schema in place of "subarchives". Populated only when
	// loading such records; merged into Subarchives by the loader.
	LegacyArchives []string `json:"archives,omitempty"`
}

// Kind derives the archive kind from the record, using the
// compression-level discriminant when the explicit type is absent.
func (m *Metadata) Kind() ArchiveKind {
	if m.Type == "copy" {
		return Copy
	}
	if m.Type == "" && m.CompressionLevel == nil && !m.MultiVolume {
		// Legacy copy records carry neither a type nor a level.
		if len(m.Subarchives) == 0 && len(m.LegacyArchives) == 0 {
			return Copy
		}
	}
	return Compressed
}

// Member is the query-time view of one archived path, produced by
// joining the archive's checksum manifests. Rebuilt on each List or
// Search call, never persisted.
type Member struct {
	// Path of the member inside the archive, including the archive
	// name prefix.
	Path string
	// Subarchive that contains the member, or "file" for top-level
	// files stored outside any subarchive.
	Subarchive string
	// MD5 hex digest recorded for the member, empty for directories.
	MD5 string
}

// SymlinkRecord describes one symlink tracked outside the tar stream.
type SymlinkRecord struct {
	// Path of the link relative to the tree root.
	Path string
	// Target is the literal link text.
	Target string
	// Resolved is the fully resolved target, or "?" when resolution
	// failed.
	Resolved string
}
