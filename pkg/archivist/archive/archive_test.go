package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
	"github.com/scidata-tools/archivist/pkg/archivist/testutil"
)

// buildExample creates the canonical example source tree: a 9-byte
// file and an empty file in a subdirectory.
func buildExample(t *testing.T) *inspect.Dir {
	t.Helper()
	parent := t.TempDir()
	src := filepath.Join(parent, "example")
	require.NoError(t, os.Mkdir(src, 0o755))
	testutil.WriteFile(t, src, "ex1.txt", "123456789")
	testutil.WriteFile(t, src, "subdir/ex2.txt", "")
	d, err := inspect.NewDir(src)
	require.NoError(t, err)
	return d
}

func makeExample(t *testing.T) *Dir {
	t.Helper()
	d := buildExample(t)
	out := t.TempDir()
	a, err := Make(d, BuilderOptions{OutDir: out, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return a
}

func TestMakeExample(t *testing.T) {
	a := makeExample(t)

	assert.Equal(t, "example.archive", filepath.Base(a.Path()))

	t.Run("layout", func(t *testing.T) {
		for _, rel := range []string{
			"example.tar.gz",
			"example.md5",
			filepath.Join(MetadataDirName, MetadataFileName),
			filepath.Join(MetadataDirName, ChecksumFileName),
			filepath.Join(MetadataDirName, ManifestFileName),
			FilelistFileName,
			TreeFileName,
			ReadmeFileName,
		} {
			_, err := os.Stat(filepath.Join(a.Path(), rel))
			assert.NoError(t, err, rel)
		}
		// Nothing was excluded, so no excluded.txt; no symlinks, so
		// no symlinks file.
		_, err := os.Stat(filepath.Join(a.Path(), MetadataDirName, ExcludedFileName))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(a.Path(), MetadataDirName, SymlinksFileName))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("metadata", func(t *testing.T) {
		md := a.Metadata()
		assert.Equal(t, "example", md.Name)
		assert.Equal(t, []string{"example.tar.gz"}, md.Subarchives)
		assert.Empty(t, md.Files)
		assert.False(t, md.MultiVolume)
		assert.Equal(t, core.Compressed, a.Kind())
		require.NotNil(t, md.CompressionLevel)
		assert.Equal(t, 6, *md.CompressionLevel)
		assert.Equal(t, core.Version, md.Version)

		// The JSON record carries the compression_level key; its
		// presence is the kind discriminant.
		data, err := os.ReadFile(filepath.Join(a.Path(), MetadataDirName, MetadataFileName))
		require.NoError(t, err)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Contains(t, raw, "compression_level")
	})

	t.Run("subarchive manifest", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(a.Path(), "example.md5"))
		require.NoError(t, err)
		assert.Equal(t,
			"25f9e794323b453885f5181f1b624d0b  example/ex1.txt\n"+
				"d41d8cd98f00b204e9800998ecf8427e  example/subdir/ex2.txt\n",
			string(data))
	})

	t.Run("verify", func(t *testing.T) {
		ok, err := a.Verify()
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMakePreflight(t *testing.T) {
	d := buildExample(t)
	out := t.TempDir()
	_, err := Make(d, BuilderOptions{OutDir: out, Logger: zerolog.Nop()})
	require.NoError(t, err)

	t.Run("existing archive", func(t *testing.T) {
		_, err := Make(d, BuilderOptions{OutDir: out, Logger: zerolog.Nop()})
		var perr *core.PreflightError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("stale staging directory", func(t *testing.T) {
		out2 := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(out2, "example"+StagingSuffix), 0o755))
		_, err := Make(d, BuilderOptions{OutDir: out2, Logger: zerolog.Nop()})
		var perr *core.PreflightError
		require.ErrorAs(t, err, &perr)
	})
}

func TestVerifyDetectsCorruption(t *testing.T) {
	a := makeExample(t)
	require.NoError(t, os.Chmod(a.Path(), 0o755))
	vol := filepath.Join(a.Path(), "example.tar.gz")
	require.NoError(t, os.Chmod(vol, 0o644))
	require.NoError(t, os.WriteFile(vol, []byte("damaged"), 0o644))

	ok, err := a.Verify()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListAndSearch(t *testing.T) {
	a := makeExample(t)

	members, err := a.List()
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "example/ex1.txt", members[0].Path)
	assert.Equal(t, "25f9e794323b453885f5181f1b624d0b", members[0].MD5)
	assert.Equal(t, filepath.Join(a.Path(), "example.tar.gz"), members[0].Subarchive)
	assert.Equal(t, "example/subdir/ex2.txt", members[1].Path)

	t.Run("by name", func(t *testing.T) {
		got, err := a.Search("ex1*", "", false)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "example/ex1.txt", got[0].Path)
	})

	t.Run("by path", func(t *testing.T) {
		got, err := a.Search("", "*subdir*", false)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "example/subdir/ex2.txt", got[0].Path)
	})

	t.Run("case insensitive", func(t *testing.T) {
		got, err := a.Search("EX1*", "", true)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("empty patterns match nothing", func(t *testing.T) {
		got, err := a.Search("", "", false)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestExtractFiles(t *testing.T) {
	a := makeExample(t)

	t.Run("flat", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, a.ExtractFiles("ex1*", dest, false))
		data, err := os.ReadFile(filepath.Join(dest, "ex1.txt"))
		require.NoError(t, err)
		assert.Equal(t, "123456789", string(data))
	})

	t.Run("keeping paths", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, a.ExtractFiles("*.txt", dest, true))
		_, err := os.Stat(filepath.Join(dest, "example", "ex1.txt"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(dest, "example", "subdir", "ex2.txt"))
		assert.NoError(t, err)
	})

	t.Run("existing files are skipped", func(t *testing.T) {
		dest := t.TempDir()
		testutil.WriteFile(t, dest, "ex1.txt", "pre-existing")
		require.NoError(t, a.ExtractFiles("ex1*", dest, false))
		data, err := os.ReadFile(filepath.Join(dest, "ex1.txt"))
		require.NoError(t, err)
		assert.Equal(t, "pre-existing", string(data))
	})
}

func TestUnpack(t *testing.T) {
	a := makeExample(t)
	dest := t.TempDir()

	restored, err := a.Unpack(dest, true, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "example"), restored)

	data, err := os.ReadFile(filepath.Join(restored, "ex1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "123456789", string(data))
	data, err = os.ReadFile(filepath.Join(restored, "subdir", "ex2.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)

	t.Run("occupied target", func(t *testing.T) {
		_, err := a.Unpack(dest, true, false)
		var perr *core.PreflightError
		require.ErrorAs(t, err, &perr)
	})
}

func TestUnpackRestoresSymlinks(t *testing.T) {
	parent := t.TempDir()
	src := filepath.Join(parent, "linked")
	require.NoError(t, os.Mkdir(src, 0o755))
	testutil.WriteFile(t, src, "target.txt", "pointed at")
	testutil.Symlink(t, "target.txt", filepath.Join(src, "alias"))

	d, err := inspect.NewDir(src)
	require.NoError(t, err)
	a, err := Make(d, BuilderOptions{OutDir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	// The symlink manifest names the link and its subarchive.
	data, err := os.ReadFile(filepath.Join(a.Path(), MetadataDirName, SymlinksFileName))
	require.NoError(t, err)
	assert.Equal(t, "linked/alias\tlinked.tar.gz\n", string(data))

	dest := t.TempDir()
	restored, err := a.Unpack(dest, true, false)
	require.NoError(t, err)
	target, err := os.Readlink(filepath.Join(restored, "alias"))
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)
}

func TestMakeMultiVolume(t *testing.T) {
	parent := t.TempDir()
	src := filepath.Join(parent, "bulk")
	require.NoError(t, os.Mkdir(src, 0o755))
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		testutil.WriteFile(t, src, name, strings.Repeat("x", 4096))
	}

	d, err := inspect.NewDir(src)
	require.NoError(t, err)
	a, err := Make(d, BuilderOptions{OutDir: t.TempDir(), VolumeSize: 5000, Logger: zerolog.Nop()})
	require.NoError(t, err)

	md := a.Metadata()
	assert.True(t, md.MultiVolume)
	assert.Greater(t, len(md.Subarchives), 1)
	assert.Equal(t, "bulk.00.tar.gz", md.Subarchives[0])

	ok, err := a.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	// A multi-volume unpack restores the same content as the source.
	dest := t.TempDir()
	restored, err := a.Unpack(dest, true, false)
	require.NoError(t, err)
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		data, err := os.ReadFile(filepath.Join(restored, name))
		require.NoError(t, err)
		assert.Len(t, data, 4096)
	}
}

func TestMakeSubDirsAndMisc(t *testing.T) {
	parent := t.TempDir()
	src := filepath.Join(parent, "run1")
	require.NoError(t, os.Mkdir(src, 0o755))
	testutil.WriteTree(t, src, map[string]string{
		"projA/reads.txt": "AAAA",
		"projB/reads.txt": "BBBB",
		"qc/report.html":  "<html>",
		"settings.conf":   "k=v",
		"projects.info":   "projA\tmeta\nprojB\tmeta\n",
	})

	d, err := inspect.NewDir(src)
	require.NoError(t, err)
	a, err := Make(d, BuilderOptions{
		OutDir:      t.TempDir(),
		SubDirs:     []string{"projA", "projB"},
		MiscObjects: []string{"qc", "settings.conf"},
		MiscName:    "processing",
		ExtraFiles:  []string{"projects.info"},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	md := a.Metadata()
	assert.Equal(t, []string{"projA.tar.gz", "projB.tar.gz", "processing.tar.gz"}, md.Subarchives)
	assert.Equal(t, []string{"projects.info"}, md.Files)

	members, err := a.List()
	require.NoError(t, err)
	var paths []string
	for _, m := range members {
		paths = append(paths, m.Path)
	}
	assert.Contains(t, paths, "run1/projects.info")
	assert.Contains(t, paths, "run1/projA/reads.txt")
	assert.Contains(t, paths, "run1/qc/report.html")
	assert.Contains(t, paths, "run1/settings.conf")

	dest := t.TempDir()
	restored, err := a.Unpack(dest, true, false)
	require.NoError(t, err)
	for _, rel := range []string{"projA/reads.txt", "projB/reads.txt", "qc/report.html", "settings.conf", "projects.info"} {
		_, err := os.Stat(filepath.Join(restored, rel))
		assert.NoError(t, err, rel)
	}
}

func TestOpenLegacyLayouts(t *testing.T) {
	writeLegacy := func(t *testing.T, metaDir, jsonFile string, md map[string]any) string {
		parent := t.TempDir()
		root := filepath.Join(parent, "run2")
		require.NoError(t, os.MkdirAll(filepath.Join(root, metaDir), 0o755))
		data, err := json.Marshal(md)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(root, metaDir, jsonFile), data, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, metaDir, "archive.md5"), nil, 0o644))
		return root
	}

	t.Run("ngsarchiver generation", func(t *testing.T) {
		root := writeLegacy(t, ".ngsarchiver", "archive_metadata.json", map[string]any{
			"name":              "run2",
			"subarchives":       []string{"run2.tar.gz"},
			"compression_level": 6,
		})
		a, err := Open(root)
		require.NoError(t, err)
		assert.Equal(t, core.Compressed, a.Kind())
		assert.Equal(t, []string{"run2.tar.gz"}, a.Metadata().Subarchives)
	})

	t.Run("oldest generation with archives key", func(t *testing.T) {
		root := writeLegacy(t, ".ngsarchive", "archive_contents.json", map[string]any{
			"archives":          []string{"run2.tar.gz"},
			"compression_level": 6,
		})
		a, err := Open(root)
		require.NoError(t, err)
		// The legacy "archives" key is merged into Subarchives and
		// the name defaults from the directory.
		assert.Equal(t, "run2", a.Metadata().Name)
		assert.Equal(t, []string{"run2.tar.gz"}, a.Metadata().Subarchives)
	})

	t.Run("no metadata at all", func(t *testing.T) {
		_, err := Open(t.TempDir())
		var serr *core.StructuralError
		require.ErrorAs(t, err, &serr)
	})
}

func TestDetectKind(t *testing.T) {
	t.Run("compressed archive", func(t *testing.T) {
		a := makeExample(t)
		kind, ok := DetectKind(a.Path())
		assert.True(t, ok)
		assert.Equal(t, core.Compressed, kind)
	})

	t.Run("plain directory", func(t *testing.T) {
		_, ok := DetectKind(t.TempDir())
		assert.False(t, ok)
	})
}
