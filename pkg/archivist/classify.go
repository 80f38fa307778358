package archivist

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scidata-tools/archivist/pkg/archivist/archive"
	"github.com/scidata-tools/archivist/pkg/archivist/core"
)

// Kind is the structural category of a directory, used to pick an
// archiving layout.
type Kind int

const (
	// Generic is any directory with no recognised structure.
	Generic Kind = iota
	// MultiSubdir holds only directories at the top level; each is
	// archived as its own subarchive.
	MultiSubdir
	// MultiProject carries a projects.info index naming per-project
	// subdirectories; projects are archived separately from
	// processing artifacts.
	MultiProject
	// Archive is a compressed archive directory built by this tool.
	Archive
	// CopyArchive is a copy archive directory built by this tool.
	CopyArchive
)

func (k Kind) String() string {
	switch k {
	case MultiSubdir:
		return "multi_subdir"
	case MultiProject:
		return "multi_project"
	case Archive:
		return "archive"
	case CopyArchive:
		return "copy_archive"
	default:
		return "generic"
	}
}

// ProjectsInfoFileName is the index file marking a multi-project
// directory. Its first tab-separated column names the per-project
// subdirectories; lines starting with '#' are comments.
const ProjectsInfoFileName = "projects.info"

// Classify determines the structural category of the directory at
// path by explicit checks, most specific first: archive metadata,
// then a projects.info index, then an all-directories top level.
func Classify(path string) (Kind, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Generic, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return Generic, &core.StructuralError{Path: abs, Reason: "not a directory", Cause: err}
	}
	if kind, ok := archive.DetectKind(abs); ok {
		if kind == core.Copy {
			return CopyArchive, nil
		}
		return Archive, nil
	}
	if info, err := os.Stat(filepath.Join(abs, ProjectsInfoFileName)); err == nil && info.Mode().IsRegular() {
		return MultiProject, nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Generic, err
	}
	if len(entries) == 0 {
		return Generic, nil
	}
	for _, e := range entries {
		// Stat follows symlinks, so a dirlink counts as a directory
		// here; a broken link does not.
		info, err := os.Stat(filepath.Join(abs, e.Name()))
		if err != nil || !info.IsDir() {
			return Generic, nil
		}
	}
	return MultiSubdir, nil
}

// ProjectDirs returns the project subdirectories of a multi-project
// directory: names from the first column of projects.info that exist
// as directories, in file order, plus any "undetermined*" directories
// not already listed.
func ProjectDirs(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ProjectsInfoFileName))
	if err != nil {
		return nil, &core.StructuralError{Path: dir, Reason: "missing " + ProjectsInfoFileName, Cause: err}
	}
	defer f.Close()

	var projects []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, _, _ := strings.Cut(line, "\t")
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.IsDir() {
			projects = append(projects, name)
			seen[name] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var undetermined []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "undetermined") && !seen[e.Name()] {
			undetermined = append(undetermined, e.Name())
		}
	}
	sort.Strings(undetermined)
	return append(projects, undetermined...), nil
}

// ProcessingArtifacts returns the top-level entries of a
// multi-project directory that are neither project directories nor
// the projects.info index itself.
func ProcessingArtifacts(dir string) ([]string, error) {
	projects, err := ProjectDirs(dir)
	if err != nil {
		return nil, err
	}
	isProject := make(map[string]bool, len(projects))
	for _, p := range projects {
		isProject[p] = true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var rest []string
	for _, e := range entries {
		if e.Name() == ProjectsInfoFileName || isProject[e.Name()] {
			continue
		}
		rest = append(rest, e.Name())
	}
	return rest, nil
}
