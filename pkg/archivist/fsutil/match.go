package fsutil

import (
	"regexp"
	"strings"
)

// Fnmatch reports whether name matches a shell-style pattern. Unlike
// path.Match, '*' and '?' also match across path separators, which is
// what archive searches expect ("*fastq*" should find entries at any
// depth).
func Fnmatch(pattern, name string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`\A`)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			set := pattern[i+1 : i+1+end]
			i += end + 1
			if strings.HasPrefix(set, "!") {
				set = "^" + set[1:]
			}
			b.WriteString("[" + set + "]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`\z`)
	return regexp.Compile(b.String())
}
