package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
)

func (b *builder) writeReports() error {
	if err := b.writeFilelist(); err != nil {
		return err
	}
	if err := b.writeTree(); err != nil {
		return err
	}
	return b.writeReadme()
}

// writeFilelist emits the flat listing: one path per line,
// directories suffixed "/", symlinks annotated with their targets.
func (b *builder) writeFilelist() error {
	f, err := os.Create(filepath.Join(b.part, FilelistFileName))
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	err = b.dir.Walk(func(p string) error {
		c := b.dir.Class(p)
		line := filepath.Join(b.name, b.dir.Rel(p))
		switch {
		case c.IsDir():
			line += "/"
		case c.IsSymlink:
			line += " -> " + c.Target
		}
		_, werr := fmt.Fprintln(w, line)
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

// writeTree renders the source the way tree(1) prints it.
func (b *builder) writeTree() error {
	f, err := os.Create(filepath.Join(b.part, TreeFileName))
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, b.name)
	if err := b.renderTree(w, b.dir.Path(), ""); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (b *builder) renderTree(w *bufio.Writer, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for i, e := range entries {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(entries)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		p := filepath.Join(dir, e.Name())
		name := e.Name()
		if c := b.dir.Class(p); c.IsSymlink {
			name += " -> " + c.Target
		}
		if _, err := fmt.Fprintln(w, prefix+connector+name); err != nil {
			return err
		}
		if e.IsDir() {
			if err := b.renderTree(w, p, childPrefix); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeReadme generates the prose description plus recovery commands.
func (b *builder) writeReadme() error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n\n", b.name+Suffix, strings.Repeat("=", len(b.name+Suffix)))
	fmt.Fprintf(&sb, "Compressed archive of %s\n", b.md.Source)
	fmt.Fprintf(&sb, "Created %s by %s (archivist %s)\n", b.md.CreationDate, b.md.User, b.md.Version)
	fmt.Fprintf(&sb, "Source size: %s\n\n", humanize.IBytes(uint64(b.md.SourceSize)))

	if b.md.MultiVolume {
		fmt.Fprintf(&sb, "Contents are stored as a multi-volume set of tar.gz files\n")
		fmt.Fprintf(&sb, "(volume size %s); all volumes must be extracted to recover\n", b.md.VolumeSize)
		fmt.Fprintf(&sb, "the original tree.\n\n")
	} else {
		fmt.Fprintf(&sb, "Contents are stored as one or more tar.gz files.\n\n")
	}

	fmt.Fprintf(&sb, "Subarchives:\n")
	for _, s := range b.md.Subarchives {
		fmt.Fprintf(&sb, "  %s\n", s)
	}
	if len(b.md.Files) > 0 {
		fmt.Fprintf(&sb, "Additional top-level files:\n")
		for _, f := range b.md.Files {
			fmt.Fprintf(&sb, "  %s\n", f)
		}
	}
	sb.WriteString("\n")

	if notes := flagNotes(b.md.Flags); len(notes) > 0 {
		fmt.Fprintf(&sb, "Source characteristics:\n")
		for _, n := range notes {
			fmt.Fprintf(&sb, "  - %s\n", n)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "To restore with archivist:\n\n")
	fmt.Fprintf(&sb, "  archivist unpack %s\n\n", b.name+Suffix)
	fmt.Fprintf(&sb, "To restore by hand, extract every subarchive in the order\n")
	fmt.Fprintf(&sb, "listed above, for example:\n\n")
	for _, s := range b.md.Subarchives {
		fmt.Fprintf(&sb, "  tar -xzf %s\n", s)
	}
	fmt.Fprintf(&sb, "\nand verify against the per-subarchive .md5 files with\n")
	fmt.Fprintf(&sb, "'md5sum -c'.\n")

	return os.WriteFile(filepath.Join(b.part, ReadmeFileName), []byte(sb.String()), 0o644)
}

func flagNotes(f core.StructuralFlags) []string {
	var notes []string
	if f.HasSymlinks {
		notes = append(notes, "contains symlinks")
	}
	if f.HasBrokenSymlinks {
		notes = append(notes, "contains broken symlinks")
	}
	if f.HasUnresolvableSymlinks {
		notes = append(notes, "contains unresolvable symlinks")
	}
	if f.HasExternalSymlinks {
		notes = append(notes, "contains symlinks pointing outside the source")
	}
	if f.HasDirlinks {
		notes = append(notes, "contains symlinks to directories")
	}
	if f.HasHardLinkedFiles {
		notes = append(notes, "contains hard-linked files")
	}
	if f.HasUnreadableFiles {
		notes = append(notes, "contains unreadable files (listed in "+MetadataDirName+"/"+ExcludedFileName+")")
	}
	if f.HasCaseSensitiveFilenames {
		notes = append(notes, "contains names that collide on case-insensitive filesystems")
	}
	return notes
}
