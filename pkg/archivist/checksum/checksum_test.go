package checksum

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
	"github.com/scidata-tools/archivist/pkg/archivist/testutil"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("known digest", func(t *testing.T) {
		p := testutil.WriteFile(t, dir, "digits.txt", "123456789")
		sum, err := File(p)
		require.NoError(t, err)
		assert.Equal(t, "25f9e794323b453885f5181f1b624d0b", sum)
	})

	t.Run("empty file", func(t *testing.T) {
		p := testutil.WriteFile(t, dir, "empty.txt", "")
		sum, err := File(p)
		require.NoError(t, err)
		assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", sum)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := File(filepath.Join(dir, "nope.txt"))
		assert.Error(t, err)
	})
}

func TestManifestRoundTrip(t *testing.T) {
	entries := []Entry{
		{MD5: "25f9e794323b453885f5181f1b624d0b", Path: "a/digits.txt"},
		{MD5: "d41d8cd98f00b204e9800998ecf8427e", Path: "empty.txt"},
	}
	var b strings.Builder
	require.NoError(t, WriteManifest(&b, entries))

	// md5sum -c layout: digest, two spaces, path.
	assert.Equal(t,
		"25f9e794323b453885f5181f1b624d0b  a/digits.txt\n"+
			"d41d8cd98f00b204e9800998ecf8427e  empty.txt\n",
		b.String())

	got, err := ReadManifest(strings.NewReader(b.String()), "test")
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestReadManifestMalformed(t *testing.T) {
	cases := map[string]string{
		"no separator": "25f9e794323b453885f5181f1b624d0b a.txt\n",
		"short digest": "25f9e794  a.txt\n",
		"not a digest": "garbage\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadManifest(strings.NewReader(content), "test")
			require.Error(t, err)
			var serr *core.StructuralError
			assert.True(t, errors.As(err, &serr))
		})
	}
}

func TestVerify(t *testing.T) {
	log := zerolog.Nop()

	setup := func(t *testing.T) (string, string) {
		dir := t.TempDir()
		p := testutil.WriteFile(t, dir, "data/digits.txt", "123456789")
		sum, err := File(p)
		require.NoError(t, err)
		manifest := filepath.Join(dir, "sums.md5")
		require.NoError(t, WriteManifestFile(manifest, []Entry{{MD5: sum, Path: "data/digits.txt"}}))
		return dir, manifest
	}

	t.Run("all good", func(t *testing.T) {
		dir, manifest := setup(t)
		ok, err := Verify(manifest, dir, log)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("corrupted file", func(t *testing.T) {
		dir, manifest := setup(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "data/digits.txt"), []byte("changed"), 0o644))
		ok, err := Verify(manifest, dir, log)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		dir, manifest := setup(t)
		require.NoError(t, os.Remove(filepath.Join(dir, "data/digits.txt")))
		ok, err := Verify(manifest, dir, log)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed manifest is an error", func(t *testing.T) {
		dir, manifest := setup(t)
		require.NoError(t, os.WriteFile(manifest, []byte("not a manifest\n"), 0o644))
		_, err := Verify(manifest, dir, log)
		assert.Error(t, err)
	})
}
