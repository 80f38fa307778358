package core

import (
	"fmt"
	"strings"
)

// StructuralError indicates a malformed input: a path that is not a
// directory, a missing metadata or manifest file, or a checksum line
// that cannot be parsed. Structural errors are always fatal and never
// retried.
type StructuralError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *StructuralError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *StructuralError) Unwrap() error {
	return e.Cause
}

// IntegrityError indicates a checksum mismatch or a file that was
// expected during verification or unpacking but is missing. Fatal for
// unpack/extract paths; the directory comparison protocol reports a
// boolean failure instead of raising one of these.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// PreflightError indicates the destination cannot receive the
// operation: a name collision, a missing directory, or a filesystem
// capability the archived tree requires (symlinks, case sensitivity).
// Raised before any mutation begins.
type PreflightError struct {
	Path   string
	Reason string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// EntryError records a single failed entry during a copy.
type EntryError struct {
	Path string
	Err  error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// CopyError collects every per-entry failure from a copy operation.
// Entry failures are batched rather than fail-fast so the caller gets
// a complete report in one pass.
type CopyError struct {
	Entries []EntryError
}

func (e *CopyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "copy failed for %d entries", len(e.Entries))
	for _, entry := range e.Entries {
		b.WriteString("\n  ")
		b.WriteString(entry.Error())
	}
	return b.String()
}

// Add appends a per-entry failure.
func (e *CopyError) Add(path string, err error) {
	e.Entries = append(e.Entries, EntryError{Path: path, Err: err})
}

// Failed reports whether any entry failed.
func (e *CopyError) Failed() bool {
	return len(e.Entries) > 0
}
