package copier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scidata-tools/archivist/pkg/archivist/archive"
	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/inspect"
	"github.com/scidata-tools/archivist/pkg/archivist/testutil"
)

func sourceDir(t *testing.T, files map[string]string) *inspect.Dir {
	t.Helper()
	parent := t.TempDir()
	src := filepath.Join(parent, "run1")
	require.NoError(t, os.Mkdir(src, 0o755))
	testutil.WriteTree(t, src, files)
	d, err := inspect.NewDir(src)
	require.NoError(t, err)
	return d
}

func TestCopyPlain(t *testing.T) {
	d := sourceDir(t, map[string]string{
		"data.txt":      "payload",
		"sub/other.txt": "more",
		"empty/":        "",
	})
	dest := filepath.Join(t.TempDir(), "run1")

	a, err := Copy(d, dest, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, dest, a.Path())

	t.Run("content", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dest, "data.txt"))
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
		info, err := os.Stat(filepath.Join(dest, "empty"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("staging directory is gone", func(t *testing.T) {
		_, err := os.Lstat(dest + ".part")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("bookkeeping", func(t *testing.T) {
		assert.Equal(t, core.Copy, a.Kind())
		md := a.Metadata()
		assert.Equal(t, "run1", md.Name)
		assert.Nil(t, md.CompressionLevel)

		for _, rel := range []string{
			filepath.Join(archive.MetadataDirName, archive.CopyChecksumFileName),
			filepath.Join(archive.MetadataDirName, archive.MetadataFileName),
			filepath.Join(archive.MetadataDirName, archive.ManifestFileName),
			archive.ReadmeFileName,
		} {
			_, err := os.Stat(filepath.Join(dest, rel))
			assert.NoError(t, err, rel)
		}
	})

	t.Run("verify against checksums", func(t *testing.T) {
		ok, err := a.Verify()
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("verify against source", func(t *testing.T) {
		ok, err := CompareDirs(d.Path(), dest, CompareOptions{
			IgnorePaths: bookkeepingPatterns(),
			Logger:      zerolog.Nop(),
		})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCopyPreflight(t *testing.T) {
	d := sourceDir(t, map[string]string{"a.txt": "a"})

	t.Run("existing destination", func(t *testing.T) {
		dest := t.TempDir()
		_, err := Copy(d, dest, Options{Logger: zerolog.Nop()})
		var perr *core.PreflightError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("stale staging directory", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "run1")
		require.NoError(t, os.Mkdir(dest+".part", 0o755))
		_, err := Copy(d, dest, Options{Logger: zerolog.Nop()})
		var perr *core.PreflightError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("missing parent", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "no", "such", "run1")
		_, err := Copy(d, dest, Options{Logger: zerolog.Nop()})
		var perr *core.PreflightError
		require.ErrorAs(t, err, &perr)
	})
}

func TestCopySymlinkPolicies(t *testing.T) {
	build := func(t *testing.T) *inspect.Dir {
		d := sourceDir(t, map[string]string{
			"target.txt": "pointed at",
			"sub/":       "",
		})
		testutil.Symlink(t, "target.txt", filepath.Join(d.Path(), "working"))
		testutil.Symlink(t, "missing.txt", filepath.Join(d.Path(), "dangling"))
		testutil.Symlink(t, "sub", filepath.Join(d.Path(), "dirlink"))
		return d
	}

	t.Run("default copies links as-is", func(t *testing.T) {
		d := build(t)
		dest := filepath.Join(t.TempDir(), "run1")
		_, err := Copy(d, dest, Options{Logger: zerolog.Nop()})
		require.NoError(t, err)

		for link, want := range map[string]string{
			"working":  "target.txt",
			"dangling": "missing.txt",
			"dirlink":  "sub",
		} {
			got, err := os.Readlink(filepath.Join(dest, link))
			require.NoError(t, err, link)
			assert.Equal(t, want, got)
		}
	})

	t.Run("replace fails on broken links", func(t *testing.T) {
		d := build(t)
		dest := filepath.Join(t.TempDir(), "run1")
		_, err := Copy(d, dest, Options{ReplaceSymlinks: true, Logger: zerolog.Nop()})
		var cerr *core.CopyError
		require.ErrorAs(t, err, &cerr)
		// The failed attempt leaves its staging directory behind.
		_, serr := os.Stat(dest + ".part")
		assert.NoError(t, serr)
	})

	t.Run("replace with transform", func(t *testing.T) {
		d := build(t)
		dest := filepath.Join(t.TempDir(), "run1")
		// The dirlink still cannot be replaced.
		_, err := Copy(d, dest, Options{
			ReplaceSymlinks:         true,
			TransformBrokenSymlinks: true,
			Logger:                  zerolog.Nop(),
		})
		var cerr *core.CopyError
		require.ErrorAs(t, err, &cerr)
		require.Len(t, cerr.Entries, 1)
		assert.Equal(t, "dirlink", cerr.Entries[0].Path)
	})

	t.Run("replace with transform and followed dirlinks", func(t *testing.T) {
		d := build(t)
		dest := filepath.Join(t.TempDir(), "run1")
		_, err := Copy(d, dest, Options{
			ReplaceSymlinks:         true,
			TransformBrokenSymlinks: true,
			FollowDirlinks:          true,
			Logger:                  zerolog.Nop(),
		})
		require.NoError(t, err)

		// The working link became a regular file with the target's
		// content.
		info, err := os.Lstat(filepath.Join(dest, "working"))
		require.NoError(t, err)
		assert.True(t, info.Mode().IsRegular())
		data, err := os.ReadFile(filepath.Join(dest, "working"))
		require.NoError(t, err)
		assert.Equal(t, "pointed at", string(data))

		// The broken link became a placeholder holding the link text.
		data, err = os.ReadFile(filepath.Join(dest, "dangling"))
		require.NoError(t, err)
		assert.Equal(t, "missing.txt", string(data))

		// The dirlink became a real directory.
		info, err = os.Lstat(filepath.Join(dest, "dirlink"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestCompareDirs(t *testing.T) {
	log := zerolog.Nop()

	setup := func(t *testing.T) (string, string) {
		a := t.TempDir()
		b := t.TempDir()
		for _, root := range []string{a, b} {
			testutil.WriteTree(t, root, map[string]string{
				"same.txt":     "identical",
				"sub/deep.txt": "also identical",
			})
		}
		return a, b
	}

	t.Run("identical trees match", func(t *testing.T) {
		a, b := setup(t)
		ok, err := CompareDirs(a, b, CompareOptions{Logger: log})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("content difference fails", func(t *testing.T) {
		a, b := setup(t)
		testutil.WriteFile(t, b, "same.txt", "changed")
		ok, err := CompareDirs(a, b, CompareOptions{Logger: log})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing entry fails", func(t *testing.T) {
		a, b := setup(t)
		require.NoError(t, os.Remove(filepath.Join(b, "sub", "deep.txt")))
		ok, err := CompareDirs(a, b, CompareOptions{Logger: log})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("extra entry fails", func(t *testing.T) {
		a, b := setup(t)
		testutil.WriteFile(t, b, "extra.txt", "surprise")
		ok, err := CompareDirs(a, b, CompareOptions{Logger: log})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ignored paths are skipped on both sides", func(t *testing.T) {
		a, b := setup(t)
		testutil.WriteFile(t, b, "notes/extra.txt", "surprise")
		ok, err := CompareDirs(a, b, CompareOptions{
			IgnorePaths: []string{"notes", "notes/*"},
			Logger:      log,
		})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("matching symlinks", func(t *testing.T) {
		a, b := setup(t)
		testutil.Symlink(t, "same.txt", filepath.Join(a, "alias"))
		testutil.Symlink(t, "same.txt", filepath.Join(b, "alias"))
		ok, err := CompareDirs(a, b, CompareOptions{Logger: log})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("replaced symlink matches only when following", func(t *testing.T) {
		a, b := setup(t)
		testutil.Symlink(t, "same.txt", filepath.Join(a, "alias"))
		testutil.WriteFile(t, b, "alias", "identical")

		ok, err := CompareDirs(a, b, CompareOptions{Logger: log})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = CompareDirs(a, b, CompareOptions{FollowSymlinks: true, Logger: log})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("placeholder for broken symlink", func(t *testing.T) {
		a, b := setup(t)
		testutil.Symlink(t, "missing.txt", filepath.Join(a, "dangling"))
		testutil.WriteFile(t, b, "dangling", "missing.txt")

		ok, err := CompareDirs(a, b, CompareOptions{Logger: log})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = CompareDirs(a, b, CompareOptions{AllowPlaceholders: true, Logger: log})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("symlink only in copy fails even when following", func(t *testing.T) {
		// A symlink in the copy where the source has a regular file
		// is never accepted, even when the link resolves to identical
		// content.
		a, b := setup(t)
		testutil.WriteFile(t, a, "alias", "identical")
		testutil.Symlink(t, "same.txt", filepath.Join(b, "alias"))

		ok, err := CompareDirs(a, b, CompareOptions{FollowSymlinks: true, Logger: log})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
