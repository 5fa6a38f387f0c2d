package filesystem

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher decides which paths under a root are ignored. A path is ignored when any of its segments relative
// to the root is hidden (leading dot) or matches one of the ignore patterns. Patterns without a slash are
// matched against every segment; patterns with a slash are matched against the whole slash separated
// relative path.
type Matcher struct {
	root         string
	segmentGlobs []glob.Glob
	pathGlobs    []glob.Glob
	// suffixes are lower-cased and compared against lower-cased segments.
	suffixes []string
}

type MatcherOption func(m *Matcher)

// WithIgnoredSuffixes ignores every segment ending in one of the suffixes, ignoring case. Extraction dirs
// are named after their container, whose extension may come in any case (IMG_0001.LIVP_temp).
func WithIgnoredSuffixes(suffixes ...string) MatcherOption {
	return func(m *Matcher) {
		for _, suffix := range suffixes {
			if suffix != "" {
				m.suffixes = append(m.suffixes, strings.ToLower(suffix))
			}
		}
	}
}

func NewMatcher(root string, patterns []string, opts ...MatcherOption) (*Matcher, error) {
	m := &Matcher{
		root: filepath.Clean(root),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" || strings.HasPrefix(pattern, "#") {
			continue
		}

		if strings.Contains(pattern, "/") {
			g, err := glob.Compile(pattern, '/')
			if err != nil {
				return nil, fmt.Errorf("compile ignore pattern %q: %w", pattern, err)
			}
			m.pathGlobs = append(m.pathGlobs, g)
			continue
		}

		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", pattern, err)
		}
		m.segmentGlobs = append(m.segmentGlobs, g)
	}

	return m, nil
}

// Root returns the directory the matcher resolves relative paths against.
func (m *Matcher) Root() string {
	return m.root
}

// Ignored reports whether path should be skipped. Paths outside the root are always ignored.
func (m *Matcher) Ignored(path string) bool {
	rel, err := filepath.Rel(m.root, filepath.Clean(path))
	if err != nil {
		return true
	}
	if rel == "." {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}

	slashed := filepath.ToSlash(rel)
	for _, g := range m.pathGlobs {
		if g.Match(slashed) {
			return true
		}
	}

	for _, segment := range strings.Split(slashed, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
		lower := strings.ToLower(segment)
		for _, suffix := range m.suffixes {
			if strings.HasSuffix(lower, suffix) {
				return true
			}
		}
		for _, g := range m.segmentGlobs {
			if g.Match(segment) {
				return true
			}
		}
	}

	return false
}
