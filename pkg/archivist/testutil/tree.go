// Package testutil builds throwaway directory trees for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a file under root, making parent directories as
// needed, and returns its path.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return p
}

// WriteTree creates every entry of files under root. Keys ending in
// "/" create empty directories; other keys create files holding
// their value.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		if rel[len(rel)-1] == '/' {
			if err := os.MkdirAll(filepath.Join(root, rel), 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", rel, err)
			}
			continue
		}
		WriteFile(t, root, rel, content)
	}
}

// Symlink creates a symlink at link pointing at target, skipping the
// test when the filesystem does not support symlinks.
func Symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported here: %v", err)
	}
}
