// Package checksum computes streaming MD5 digests and reads, writes
// and verifies md5sum-compatible manifest files.
//
// MD5 is used for compatibility with the ubiquitous "md5sum -c" text
// format, not as a security boundary.
package checksum

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scidata-tools/archivist/pkg/archivist/core"
)

// blockSize is the read granularity for digest streaming.
const blockSize = 1024 * 1024

// Entry is one manifest line: a hex digest and the path it covers,
// relative to the manifest's root.
type Entry struct {
	MD5  string
	Path string
}

// File returns the hex MD5 digest of the file at path, streamed in
// 1 MiB blocks.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksumming: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Sum(f)
}

// Sum returns the hex MD5 digest of everything readable from r.
func Sum(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to stream checksum: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// WriteManifest writes entries to w in md5sum format, one
// "<hex>  <path>" line per entry, preserving the supplied order.
func WriteManifest(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s  %s\n", e.MD5, e.Path); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteManifestFile writes entries to the named file.
func WriteManifestFile(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteManifest(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadManifest parses manifest lines from r, preserving order. A line
// without the double-space separator is a structural error, not a
// skippable one.
func ReadManifest(r io.Reader, name string) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sum, path, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != 32 {
			return nil, &core.StructuralError{Path: name, Reason: fmt.Sprintf("bad checksum line %q", line)}
		}
		entries = append(entries, Entry{MD5: sum, Path: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadManifestFile parses the named manifest file.
func ReadManifestFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadManifest(f, path)
}

// Verify checks every manifest entry against rootDir. The first
// missing file or digest mismatch is reported through log and makes
// the result false. Malformed manifest content returns an error.
func Verify(manifestPath, rootDir string, log zerolog.Logger) (bool, error) {
	entries, err := ReadManifestFile(manifestPath)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		target := e.Path
		if rootDir != "" {
			target = filepath.Join(rootDir, e.Path)
		}
		if _, err := os.Stat(target); err != nil {
			log.Error().Str("path", target).Msg("missing, can't verify checksum")
			return false, nil
		}
		sum, err := File(target)
		if err != nil {
			log.Error().Str("path", target).Err(err).Msg("failed to compute checksum")
			return false, nil
		}
		if sum != e.MD5 {
			log.Error().Str("path", target).Msg("checksum verification failed")
			return false, nil
		}
	}
	return true, nil
}
