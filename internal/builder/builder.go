// Package builder implements the archive builder (spec component 4.E): a
// depth-first directory walk that chunks and stores file content, then
// publishes a self-contained manifest atomically.
package builder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ddupbak/internal/archive"
	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/chunker"
	"ddupbak/internal/chunkstore"
	"ddupbak/internal/ignore"
	"ddupbak/internal/logging"
	"ddupbak/internal/repoerr"
)

// ChunkingFunc is invoked exactly once per file, before its chunks are
// dispatched to the store.
type ChunkingFunc func(path string)

// ArchivingFunc is invoked exactly once per file, after all of its chunks
// have been persisted and their refcounts incremented.
type ArchivingFunc func(path string)

// CodecFunc selects the compression codec for a file. If nil, every file is
// stored with chunkcodec.None.
type CodecFunc func(path string, sizeReal uint64) chunkcodec.Codec

// RealSizeFunc optionally overrides the logical size attribute recorded for
// a file, instead of the size reported by Stat. Supplemental (spec.md §13).
type RealSizeFunc func(path string) (uint64, bool)

// Options configures a Build call.
type Options struct {
	Store   *chunkstore.Store
	Name    string
	Ignored *ignore.Set

	MaxChunkSize int
	Threads      int

	Chunking  ChunkingFunc
	Archiving ArchivingFunc
	Codec     CodecFunc
	RealSize  RealSizeFunc

	Now    func() time.Time
	Logger *slog.Logger
}

// Build walks rootDir depth-first in lexicographic order, chunks and stores
// every non-ignored file, and returns the resulting in-memory Archive. The
// caller is responsible for persisting the manifest; Build only guarantees
// that every chunk it references is durable and refcounted in the store
// before returning successfully.
//
// On failure, every refcount increment already applied is rolled back before
// the error is returned (eager rollback). A crash instead of a clean error
// return skips the rollback: the increments stay in the persisted index, and
// chunkstore.GC, which removes only refcount-zero chunks, does not reclaim
// them.
func Build(ctx context.Context, rootDir string, opts Options) (*archive.Archive, error) {
	if opts.Store == nil || opts.Name == "" {
		return nil, repoerr.New(repoerr.InvalidArgument, "builder.Build", nil)
	}
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	maxChunkSize := opts.MaxChunkSize
	if maxChunkSize <= 0 {
		maxChunkSize = chunker.DefaultMaxChunkSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.Default(opts.Logger).With("component", "builder")

	b := &build{
		opts:         opts,
		rootDir:      rootDir,
		maxChunkSize: maxChunkSize,
		threads:      threads,
		logger:       logger,
		refs:         make(map[chunkcodec.Hash]uint64),
	}

	root, err := b.walkDir(ctx, "")
	if err != nil {
		b.rollback()
		return nil, err
	}

	return &archive.Archive{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Name:       opts.Name,
		CreatedAt:  now(),
		Root:       root,
		ChunkTable: b.chunkTable(),
	}, nil
}

type build struct {
	opts         Options
	rootDir      string
	maxChunkSize int
	threads      int
	logger       *slog.Logger

	refsMu sync.Mutex
	// refs counts how many times this build has incremented each hash's
	// refcount, so a failed build can roll every increment back exactly.
	refs map[chunkcodec.Hash]uint64
	// table accumulates the deduplicated chunk table rows in first-seen order.
	table []archive.ChunkTableEntry
}

func (b *build) chunkTable() []archive.ChunkTableEntry {
	return b.table
}

// walkDir builds the DirectoryEntry for relPath (relative to rootDir; ""
// denotes the root itself), recursing depth-first with children sorted
// lexicographically on raw path-segment bytes.
func (b *build) walkDir(ctx context.Context, relPath string) (*archive.DirectoryEntry, error) {
	absPath := filepath.Join(b.rootDir, relPath)
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, repoerr.New(repoerr.Io, "builder.Build", err)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, repoerr.New(repoerr.Io, "builder.Build", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	dirEntry := &archive.DirectoryEntry{
		EntryCommon: commonFromStat(filepath.Base(absPath), info),
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		childRel := name
		if relPath != "" {
			childRel = relPath + "/" + name
		}
		if b.opts.Ignored != nil && b.opts.Ignored.IsIgnored(childRel) {
			continue
		}
		childAbs := filepath.Join(b.rootDir, childRel)
		childInfo, err := os.Lstat(childAbs)
		if err != nil {
			return nil, repoerr.New(repoerr.Io, "builder.Build", err)
		}

		var child archive.Entry
		switch {
		case childInfo.Mode()&os.ModeSymlink != 0:
			child, err = b.buildSymlink(childAbs, childInfo)
		case childInfo.IsDir():
			child, err = b.walkDir(ctx, childRel)
		default:
			child, err = b.buildFile(ctx, childAbs, childRel, childInfo)
		}
		if err != nil {
			return nil, err
		}
		dirEntry.Children = append(dirEntry.Children, child)
	}
	return dirEntry, nil
}

func (b *build) buildSymlink(absPath string, info os.FileInfo) (*archive.SymlinkEntry, error) {
	target, err := os.Readlink(absPath)
	if err != nil {
		return nil, repoerr.New(repoerr.Io, "builder.Build", err)
	}
	targetDir := false
	if targetInfo, err := os.Stat(absPath); err == nil {
		targetDir = targetInfo.IsDir()
	}
	return &archive.SymlinkEntry{
		EntryCommon: commonFromStat(filepath.Base(absPath), info),
		Target:      target,
		TargetDir:   targetDir,
	}, nil
}

func (b *build) buildFile(ctx context.Context, absPath, relPath string, info os.FileInfo) (*archive.FileEntry, error) {
	if b.opts.Chunking != nil {
		b.opts.Chunking(relPath)
	}

	sizeReal := uint64(info.Size())
	if b.opts.RealSize != nil {
		if override, ok := b.opts.RealSize(relPath); ok {
			sizeReal = override
		}
	}
	codec := chunkcodec.None
	if b.opts.Codec != nil {
		codec = b.opts.Codec(relPath, sizeReal)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, repoerr.New(repoerr.Io, "builder.Build", err)
	}
	defer f.Close()

	// Collect every chunk payload first so the results slice below can be
	// pre-sized and never reallocated: workers write into it by index
	// concurrently with each other, but never concurrently with this loop
	// (mirrors restorer.materializeFile's results slice, restorer.go).
	var payloads [][]byte
	err = chunker.Split(f, b.maxChunkSize, func(data []byte) error {
		payload := make([]byte, len(data))
		copy(payload, data)
		payloads = append(payloads, payload)
		return nil
	})
	if err != nil {
		return nil, err
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(b.threads)

	chunks := make([]archive.ChunkRef, len(payloads))
	for i, payload := range payloads {
		i, payload := i, payload
		g.Go(func() error {
			hash, err := b.opts.Store.Put(payload, codec)
			if err != nil {
				return err
			}
			stat, err := b.opts.Store.Stat(hash)
			if err != nil {
				return err
			}
			b.recordRef(hash, stat)
			chunks[i] = archive.ChunkRef{Hash: hash, RealLen: uint64(len(payload)), StoredLen: stat.SizeStored}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sizeCompressed uint64
	for _, c := range chunks {
		sizeCompressed += c.StoredLen
	}

	entry := &archive.FileEntry{
		EntryCommon:    commonFromStat(filepath.Base(absPath), info),
		Compression:    codec,
		SizeReal:       sizeReal,
		SizeCompressed: sizeCompressed,
		Chunks:         chunks,
	}

	if b.opts.Archiving != nil {
		b.opts.Archiving(relPath)
	}
	return entry, nil
}

// recordRef tracks a hash this build has incremented, for rollback on
// failure, and appends a chunk-table row the first time this hash is seen.
func (b *build) recordRef(hash chunkcodec.Hash, stat chunkstore.Stat) {
	b.refsMu.Lock()
	defer b.refsMu.Unlock()
	if b.refs[hash] == 0 {
		b.table = append(b.table, archive.ChunkTableEntry{
			Hash:       hash,
			Codec:      stat.Codec,
			SizeReal:   stat.SizeReal,
			SizeStored: stat.SizeStored,
		})
	}
	b.refs[hash]++
}

// rollback decrements every refcount this build incremented, by exactly as
// many times as it incremented it. Called only when Build fails before the
// manifest would be published.
func (b *build) rollback() {
	for hash, n := range b.refs {
		if err := b.opts.Store.Decref(hash, n); err != nil {
			b.logger.Warn("rollback: failed to decref chunk", "hash", hash.String(), "error", err)
		}
	}
}

func commonFromStat(name string, info os.FileInfo) archive.EntryCommon {
	common := archive.EntryCommon{
		Name:  name,
		Mode:  uint32(info.Mode().Perm()),
		MTime: info.ModTime().Unix(),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		common.UID = st.Uid
		common.GID = st.Gid
	}
	return common
}
