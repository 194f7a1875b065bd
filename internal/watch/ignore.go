package watch

import (
	"path"
	"path/filepath"
	"strings"
)

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against each path component
}

// IgnoreMatcher checks working-tree-relative paths against glob patterns.
// Patterns without '/' match any single path component, so "node_modules"
// ignores everything beneath such a directory. Patterns with '/' match the
// full relative path or one of its leading directories.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.Trim(raw, "/")
		if raw == "" {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	components := strings.Split(normalized, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			if matchPrefix(p.pattern, components) {
				return true
			}
			continue
		}
		for _, c := range components {
			// Bad patterns never match.
			if ok, err := path.Match(p.pattern, c); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// matchPrefix matches pattern against the path and each of its parent
// directories.
func matchPrefix(pattern string, components []string) bool {
	for i := len(components); i > 0; i-- {
		candidate := strings.Join(components[:i], "/")
		if ok, err := path.Match(pattern, candidate); err == nil && ok {
			return true
		}
	}
	return false
}
