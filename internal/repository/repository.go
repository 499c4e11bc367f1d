// Package repository implements the repository (spec component 4.G): the
// on-disk container of a chunk store, an archives directory, and
// configuration, plus the lifecycle state machine and orchestration of the
// builder/restorer/chunk store.
package repository

import (
	"cmp"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"ddupbak/internal/archive"
	"ddupbak/internal/builder"
	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/chunkstore"
	"ddupbak/internal/config"
	"ddupbak/internal/ignore"
	"ddupbak/internal/logging"
	"ddupbak/internal/repoerr"
	"ddupbak/internal/restorer"
)

// State is the repository's lifecycle state (spec.md §4.G): Opened →
// Modified → (Saved|Dropped). Saving from Modified returns to Opened.
type State int

const (
	Opened State = iota
	Modified
	Dropped
)

func (s State) String() string {
	switch s {
	case Opened:
		return "opened"
	case Modified:
		return "modified"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

const (
	configFileName  = "config"
	archivesDirName = "archives"
	chunksDirName   = "chunks"
)

// Repository is a single-owner, single-process handle on a repository
// directory. Concurrent operations on one Repository from multiple
// goroutines are permitted only through the same instance; two independent
// Opens of the same directory are not supported (spec.md §5).
type Repository struct {
	dir         string
	configStore *config.Store
	store       *chunkstore.Store
	ignored     *ignore.Set
	cfg         config.Config
	logger      *slog.Logger

	state      State
	saveOnDrop bool
}

// Create initializes a fresh repository at dir: a chunk index, a config
// document, and an empty archives directory. AlreadyExists is returned if a
// config file is already present.
func Create(dir string, chunkSize, maxChunkCount int, ignored []string, logger *slog.Logger) (*Repository, error) {
	if dir == "" || chunkSize < 0 || maxChunkCount < 0 {
		return nil, repoerr.New(repoerr.InvalidArgument, "repository.Create", nil)
	}
	logger = logging.Default(logger).With("component", "repository")

	configPath := filepath.Join(dir, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return nil, repoerr.New(repoerr.AlreadyExists, "repository.Create", nil)
	}

	if chunkSize == 0 {
		chunkSize = config.DefaultChunkSize
	}
	cfg := config.Config{
		ChunkSize:     chunkSize,
		MaxChunkCount: maxChunkCount,
		Ignored:       append([]string(nil), ignored...),
	}

	cs := config.NewStore(configPath)
	if err := cs.Save(&cfg); err != nil {
		return nil, err
	}

	store, err := chunkstore.Open(chunkstore.Config{
		Dir:    filepath.Join(dir, chunksDirName),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dir, archivesDirName), 0o755); err != nil {
		store.Close()
		return nil, repoerr.New(repoerr.Io, "repository.Create", err)
	}

	set := ignore.NewSet()
	for _, p := range cfg.Ignored {
		set.Add(p)
	}
	for _, g := range cfg.IgnoredGlobs {
		set.AddGlob(g)
	}

	logger.Info("created repository", "dir", dir)
	return &Repository{
		dir:         dir,
		configStore: cs,
		store:       store,
		ignored:     set,
		cfg:         cfg,
		logger:      logger,
		state:       Opened,
	}, nil
}

// Open reads an existing repository's config and chunk index. chunksDir
// optionally relocates the chunk pool to a different filesystem than dir
// (spec.md §4.G, §6).
func Open(dir string, chunksDir string, logger *slog.Logger) (*Repository, error) {
	if dir == "" {
		return nil, repoerr.New(repoerr.InvalidArgument, "repository.Open", nil)
	}
	logger = logging.Default(logger).With("component", "repository")

	cs := config.NewStore(filepath.Join(dir, configFileName))
	cfg, err := cs.Load()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, repoerr.New(repoerr.NotFound, "repository.Open", nil)
	}

	storeDir := cmp.Or(chunksDir, filepath.Join(dir, chunksDirName))
	store, err := chunkstore.Open(chunkstore.Config{Dir: storeDir, Logger: logger})
	if err != nil {
		return nil, err
	}

	set := ignore.NewSet()
	for _, p := range cfg.Ignored {
		set.Add(p)
	}
	for _, g := range cfg.IgnoredGlobs {
		set.AddGlob(g)
	}

	logger.Info("opened repository", "dir", dir, "chunks_dir", storeDir)
	return &Repository{
		dir:         dir,
		configStore: cs,
		store:       store,
		ignored:     set,
		cfg:         *cfg,
		logger:      logger,
		state:       Opened,
	}, nil
}

// Save flushes the current config (including the ignored set) to disk and
// transitions Modified back to Opened.
func (r *Repository) Save() error {
	r.cfg.Ignored = r.ignored.List()
	r.cfg.IgnoredGlobs = r.ignored.ListGlobs()
	if err := r.configStore.Save(&r.cfg); err != nil {
		return err
	}
	if r.state == Modified {
		r.state = Opened
	}
	return nil
}

// SaveOnDrop toggles whether Close saves automatically when the repository
// is in the Modified state (spec.md §4.G "Set-on-drop semantics").
func (r *Repository) SaveOnDrop(enabled bool) {
	r.saveOnDrop = enabled
}

// Close tears down the repository, releasing the chunk store's directory
// lock. If SaveOnDrop(true) was set and the repository is Modified, it saves
// first; a save error at drop time is logged but not propagated, matching
// spec.md §4.G.
func (r *Repository) Close() error {
	if r.state == Modified && r.saveOnDrop {
		if err := r.Save(); err != nil {
			r.logger.Error("save on drop failed", "error", err)
		}
	}
	r.state = Dropped
	return r.store.Close()
}

// AddIgnored adds an exact/prefix ignored path entry (spec.md §6).
func (r *Repository) AddIgnored(path string) {
	r.ignored.Add(path)
	r.modified()
}

// RemoveIgnored removes a previously added ignored path entry.
func (r *Repository) RemoveIgnored(path string) {
	r.ignored.Remove(path)
	r.modified()
}

// IsIgnored reports whether path is currently ignored (exact/prefix or
// supplemental glob match).
func (r *Repository) IsIgnored(path string) bool {
	return r.ignored.IsIgnored(path)
}

// ListIgnored returns the exact/prefix ignored entries, sorted.
func (r *Repository) ListIgnored() []string {
	return r.ignored.List()
}

// AddIgnoredGlob registers a supplemental doublestar glob ignore pattern
// (spec.md §13). Strictly additive over the exact/prefix set.
func (r *Repository) AddIgnoredGlob(pattern string) {
	r.ignored.AddGlob(pattern)
	r.modified()
}

// RemoveIgnoredGlob removes a previously added glob pattern.
func (r *Repository) RemoveIgnoredGlob(pattern string) {
	r.ignored.RemoveGlob(pattern)
	r.modified()
}

// ListIgnoredGlobs returns the supplemental glob patterns, sorted.
func (r *Repository) ListIgnoredGlobs() []string {
	return r.ignored.ListGlobs()
}

func (r *Repository) modified() {
	if r.state == Opened {
		r.state = Modified
	}
}

// State returns the repository's current lifecycle state.
func (r *Repository) State() State {
	return r.state
}

// Clean invokes garbage collection on the chunk store (spec.md §4.B),
// reporting the fate of each chunk visited via progress.
func (r *Repository) Clean(progress chunkstore.GCProgress) (int, error) {
	return r.store.GC(progress)
}

func (r *Repository) archivePath(name string) string {
	return filepath.Join(r.dir, archivesDirName, name)
}

// CreateArchive walks dir, chunks and stores every non-ignored file via the
// builder, and persists the resulting manifest under archives/<name>. The
// archive name must not already exist. opts.Threads carries the spec's
// `threads` argument; opts.Chunking/Archiving/Codec are the chunking_cb,
// archiving_cb and codec_cb callbacks.
func (r *Repository) CreateArchive(ctx context.Context, name, dir string, opts builder.Options) (*archive.Archive, error) {
	if name == "" {
		return nil, repoerr.New(repoerr.InvalidArgument, "repository.CreateArchive", nil)
	}
	manifestPath := r.archivePath(name)
	if _, err := os.Stat(manifestPath); err == nil {
		return nil, repoerr.New(repoerr.AlreadyExists, "repository.CreateArchive", nil)
	}

	opts.Store = r.store
	opts.Name = name
	if opts.Ignored == nil {
		opts.Ignored = r.ignored
	}
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = r.cfg.ChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}

	a, err := builder.Build(ctx, dir, opts)
	if err != nil {
		return nil, err
	}

	data, err := a.Serialize()
	if err == nil {
		err = writeManifestAtomic(manifestPath, data)
	}
	if err != nil {
		// The manifest was not published: undo the builder's refcount
		// increments, one per chunk reference in the tree.
		refs := make(map[chunkcodec.Hash]uint64)
		countEntryRefs(a.Root, refs)
		for hash, n := range refs {
			if derr := r.store.Decref(hash, n); derr != nil {
				r.logger.Warn("rollback: failed to decref chunk", "hash", hash.String(), "error", derr)
			}
		}
		return nil, err
	}

	r.logger.Info("created archive", "name", name, "chunks", len(a.ChunkTable))
	return a, nil
}

// ListArchives returns the names of every archive in the repository, sorted.
func (r *Repository) ListArchives() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, archivesDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, repoerr.New(repoerr.Io, "repository.ListArchives", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// GetArchive reads and deserializes the manifest for name.
func (r *Repository) GetArchive(name string) (*archive.Archive, error) {
	data, err := os.ReadFile(r.archivePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repoerr.New(repoerr.NotFound, "repository.GetArchive", nil)
		}
		return nil, repoerr.New(repoerr.Io, "repository.GetArchive", err)
	}
	return archive.Deserialize(data)
}

// DeleteArchive decrements the refcount of every chunk reference in name's
// manifest (once per occurrence, not once per distinct hash — a file whose
// content repeats a chunk references that hash more than once, and
// create_archive incremented the refcount that many times), removes the
// manifest file, and invokes GC. progress reports the GC's per-chunk
// decisions (spec.md §4.G, §8 properties 4-5).
func (r *Repository) DeleteArchive(name string, progress chunkstore.GCProgress) error {
	a, err := r.GetArchive(name)
	if err != nil {
		return err
	}
	refs := make(map[chunkcodec.Hash]uint64)
	countEntryRefs(a.Root, refs)
	for hash, n := range refs {
		if err := r.store.Decref(hash, n); err != nil && !repoerr.Is(err, repoerr.NotFound) {
			return err
		}
	}
	if err := os.Remove(r.archivePath(name)); err != nil {
		return repoerr.New(repoerr.Io, "repository.DeleteArchive", err)
	}
	if _, err := r.store.GC(progress); err != nil {
		return err
	}
	r.logger.Info("deleted archive", "name", name)
	return nil
}

// countEntryRefs walks the entry tree depth-first, tallying how many times
// each chunk hash is referenced across every FileEntry's chunk list.
func countEntryRefs(e archive.Entry, refs map[chunkcodec.Hash]uint64) {
	switch v := e.(type) {
	case *archive.DirectoryEntry:
		for _, child := range v.Children {
			countEntryRefs(child, refs)
		}
	case *archive.FileEntry:
		for _, c := range v.Chunks {
			refs[c.Hash]++
		}
	}
}

// RestoreArchive restores the named archive into destDir using the restorer.
func (r *Repository) RestoreArchive(ctx context.Context, name, destDir string, progress restorer.ProgressFunc, threads int) (string, error) {
	a, err := r.GetArchive(name)
	if err != nil {
		return "", err
	}
	return restorer.Restore(ctx, a, destDir, restorer.Options{
		Store:    r.store,
		Progress: progress,
		Threads:  threads,
		Logger:   r.logger,
	})
}

func writeManifestAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return repoerr.New(repoerr.Io, "repository.CreateArchive", err)
	}
	tmpPath := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return repoerr.New(repoerr.Io, "repository.CreateArchive", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return repoerr.New(repoerr.Io, "repository.CreateArchive", err)
	}
	return nil
}
