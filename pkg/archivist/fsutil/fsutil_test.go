package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o640))
	old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(src, old, old))

	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.Equal(t, old, info.ModTime().Truncate(time.Second))
}

func TestSetReadWriteTree(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "locked.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o400))

	require.NoError(t, SetReadWriteTree(dir))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm()&0o600)
}

func TestFnmatch(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*.txt", "notes.txt", true},
		{"*.txt", "notes.txt.bak", false},
		{"*fastq*", "run1/sample.fastq.gz", true},
		{"ex?.txt", "ex1.txt", true},
		{"ex?.txt", "ex12.txt", false},
		{"[ab]*.txt", "a1.txt", true},
		{"[!ab]*.txt", "a1.txt", false},
		{"data/*", "data/sub/deep.txt", true},
		{"exact", "exact", true},
		{"exact", "inexact", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Fnmatch(c.pattern, c.name), "%s vs %s", c.pattern, c.name)
	}
}

func TestProbes(t *testing.T) {
	dir := t.TempDir()
	// On a typical Linux tmpdir both probes hold; the assertions are
	// about the probes not erroring or leaving droppings behind.
	_ = SupportsSymlinks(dir)
	_ = IsCaseSensitive(dir)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
