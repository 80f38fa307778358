package archivist

import (
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize converts a human-readable size such as "250M" or "1 GiB"
// into bytes. Bare single-letter suffixes are read as binary
// multiples, so "250M" means 250 MiB.
func ParseSize(s string) (int64, error) {
	t := strings.TrimSpace(s)
	if n := len(t); n > 1 {
		switch t[n-1] {
		case 'K', 'k', 'M', 'G', 'T':
			t += "iB"
		}
	}
	n, err := humanize.ParseBytes(t)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// FormatSize renders a byte count in binary units ("4.0 MiB").
func FormatSize(n int64) string {
	return humanize.IBytes(uint64(n))
}
