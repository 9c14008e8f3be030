package crawler

import (
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// filter applies fs.includes and fs.excludes. Patterns are matched against
// the virtual path (/sub/file.txt) and against the bare name, so both
// "*.pdf" and "/archive/**" work.
type filter struct {
	includes []string
	excludes []string
}

func newFilter(includes, excludes []string) (filter, error) {
	for _, p := range slices.Concat(includes, excludes) {
		if !doublestar.ValidatePattern(p) {
			return filter{}, &patternError{pattern: p}
		}
	}
	return filter{includes: includes, excludes: excludes}, nil
}

type patternError struct {
	pattern string
}

func (e *patternError) Error() string {
	return "invalid include/exclude pattern: " + e.pattern
}

func match(patterns []string, virtual, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, virtual); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, name); ok {
				return true
			}
		}
	}
	return false
}

// dir reports whether a directory is traversed.
func (f filter) dir(virtual, name string) bool {
	return !match(f.excludes, virtual, name)
}

// file reports whether a file is indexed.
func (f filter) file(virtual, name string) bool {
	if match(f.excludes, virtual, name) {
		return false
	}
	return len(f.includes) == 0 || match(f.includes, virtual, name)
}
