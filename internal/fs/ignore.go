// Package fs holds path rules shared by the content stores and the server.
package fs

import (
	"bufio"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// defaultIgnorePatterns are always applied. Store temp files use the .tmp- prefix.
var defaultIgnorePatterns = []string{".tmp-*"}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against the whole path; false = match against any single element
}

// IgnoreMatcher checks slash-separated device paths against ignore patterns.
// Patterns without '/' match any element of the path, so "*.part" ignores a
// file and ".thumbnails" ignores a directory and everything below it.
// Patterns with '/' match the whole path from the device root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings plus the defaults.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range append(append([]string(nil), defaultIgnorePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.Trim(raw, "/")
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given slash-separated relative path should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	relativePath = strings.Trim(relativePath, "/")
	if relativePath == "" || len(m.patterns) == 0 {
		return false
	}
	elements := strings.Split(relativePath, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			if matched, err := path.Match(p.pattern, relativePath); err == nil && matched {
				return true
			}
			continue
		}
		for _, el := range elements {
			// A malformed pattern never matches.
			if matched, err := path.Match(p.pattern, el); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads ignore patterns, one per line, from name on fsys.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(fsys afero.Fs, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
