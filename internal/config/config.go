// Package config defines the repository's on-disk configuration (spec.md
// §4.G, §6): chunk size, max chunk count hint, and the ignored-files set.
package config

// Config is the repository's persisted settings.
type Config struct {
	// ChunkSize is the maximum chunk size (bytes) the builder splits files
	// into.
	ChunkSize int `json:"chunk_size"`
	// MaxChunkCount is an advisory hint for callers sizing the chunk pool;
	// the repository does not enforce it.
	MaxChunkCount int `json:"max_chunk_count"`
	// Ignored is the exact/prefix ignored-files set (spec.md §6).
	Ignored []string `json:"ignored"`
	// IgnoredGlobs is the supplemental doublestar glob ignore set (§13).
	IgnoredGlobs []string `json:"ignored_globs"`
}

// DefaultChunkSize matches internal/chunker.DefaultMaxChunkSize so a repo
// created without an explicit chunk size gets the same default the chunker
// itself falls back to.
const DefaultChunkSize = 4 << 20
