// Package ignore implements the ignored-files set used by the repository and
// consulted by the archive builder's walk (spec.md §6, "Ignored-files
// matching"): a path matches if it equals an ignored entry exactly or if it
// has an ignored entry as a prefix followed by a path separator. Matching is
// case-sensitive.
package ignore

import (
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Set is a mutable, concurrency-safe collection of ignored relative paths,
// plus a supplemental set of doublestar glob patterns.
//
// Glob matching is strictly additive: the exact/prefix rule mandated by the
// spec is always evaluated first and alone determines the documented
// behavior; AddGlob only widens what else is skipped.
type Set struct {
	mu    sync.RWMutex
	exact map[string]struct{}
	globs map[string]struct{}
}

// NewSet returns an empty ignored-files set.
func NewSet() *Set {
	return &Set{exact: make(map[string]struct{})}
}

// Add inserts path into the ignored set.
func (s *Set) Add(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exact[path] = struct{}{}
}

// Remove deletes path from the ignored set. A no-op if absent.
func (s *Set) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exact, path)
}

// AddGlob registers a supplemental doublestar glob pattern (e.g. "*.tmp",
// "**/*.log"). Patterns are matched against the path relative to the
// archive root, not against the filesystem.
func (s *Set) AddGlob(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.globs == nil {
		s.globs = make(map[string]struct{})
	}
	s.globs[pattern] = struct{}{}
}

// RemoveGlob deletes a previously added glob pattern.
func (s *Set) RemoveGlob(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.globs, pattern)
}

// IsIgnored reports whether path is covered by the ignored set: an exact
// match, a prefix match on a directory separator boundary, or (supplemental)
// a glob match.
func (s *Set) IsIgnored(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.exact[path]; ok {
		return true
	}
	for entry := range s.exact {
		if strings.HasPrefix(path, entry+"/") {
			return true
		}
	}
	for pattern := range s.globs {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// List returns the exact/prefix entries in lexicographic order.
func (s *Set) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.exact))
	for entry := range s.exact {
		out = append(out, entry)
	}
	sort.Strings(out)
	return out
}

// ListGlobs returns the supplemental glob patterns in lexicographic order.
func (s *Set) ListGlobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.globs))
	for pattern := range s.globs {
		out = append(out, pattern)
	}
	sort.Strings(out)
	return out
}
