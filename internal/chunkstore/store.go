// Package chunkstore implements the content-addressed chunk pool (spec
// component 4.B): a directory-backed store keyed by chunk hash, with a
// persistent refcounted index, a two-level hex fan-out, and restart-safe
// garbage collection.
//
// The directory is single-owner: Open takes an exclusive advisory lock
// (syscall.Flock) and a second Open against the same directory fails with
// repoerr.Busy, mirroring the teacher's manager.go directory-lock pattern.
package chunkstore

import (
	"cmp"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"ddupbak/internal/callgroup"
	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/logging"
	"ddupbak/internal/repoerr"
)

// Config configures a Store.
type Config struct {
	// Dir is the chunk store root, containing the index file and the
	// two-level hex fan-out of chunk files.
	Dir string

	// FileMode is the permission mode used for new chunk files.
	FileMode os.FileMode

	// DirMode is the permission mode used for fan-out directories.
	DirMode os.FileMode

	Logger *slog.Logger
}

// Store is a content-addressed, deduplicating chunk pool.
type Store struct {
	dir      string
	fileMode os.FileMode
	dirMode  os.FileMode
	logger   *slog.Logger

	lockFile *os.File

	mu    sync.Mutex
	index map[chunkcodec.Hash]indexEntry

	writes callgroup.Group[chunkcodec.Hash]
}

const (
	lockFileName = ".lock"

	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

// Open opens (creating if necessary) the chunk store rooted at cfg.Dir and
// takes an exclusive lock on it. The caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		return nil, repoerr.New(repoerr.InvalidArgument, "chunkstore.Open", nil)
	}
	fileMode := cmp.Or(cfg.FileMode, os.FileMode(defaultFileMode))
	dirMode := cmp.Or(cfg.DirMode, os.FileMode(defaultDirMode))
	logger := logging.Default(cfg.Logger).With("component", "chunkstore")

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, repoerr.New(repoerr.Io, "chunkstore.Open", err)
	}

	lockPath := filepath.Join(dir, lockFileName)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return nil, repoerr.New(repoerr.Io, "chunkstore.Open", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, repoerr.New(repoerr.Busy, "chunkstore.Open", err)
	}

	index, err := loadIndex(dir)
	if err != nil {
		syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
		return nil, err
	}

	s := &Store{
		dir:      dir,
		fileMode: fileMode,
		dirMode:  dirMode,
		logger:   logger,
		lockFile: lockFile,
		index:    index,
	}
	logger.Info("opened chunk store", "dir", dir, "chunks", len(index))
	return s, nil
}

// Close releases the directory lock. It does not flush the index: every
// mutating operation persists the index before returning, so there is
// nothing left to flush.
func (s *Store) Close() error {
	if s.lockFile == nil {
		return nil
	}
	syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
	err := s.lockFile.Close()
	s.lockFile = nil
	if err != nil {
		return repoerr.New(repoerr.Io, "chunkstore.Close", err)
	}
	return nil
}

// chunkPath returns the fan-out path for a chunk hash: <dir>/<first-hex-byte>/<full-hex-hash>.
func (s *Store) chunkPath(h chunkcodec.Hash) string {
	hexHash := h.String()
	return filepath.Join(s.dir, hexHash[:2], hexHash)
}

// Put compresses data under codec, stores it content-addressed by its
// uncompressed hash, and increments the chunk's refcount by one. Concurrent
// Put calls for the same content are idempotent: only one caller's goroutine
// writes the chunk file, but every caller's refcount increment is applied
// (spec.md §4.B, §8 property 7).
func (s *Store) Put(data []byte, codec chunkcodec.Codec) (chunkcodec.Hash, error) {
	if !chunkcodec.ValidCodec(codec) {
		return chunkcodec.Hash{}, repoerr.New(repoerr.InvalidArgument, "chunkstore.Put", nil)
	}
	hash := chunkcodec.Sum(data)

	errCh := s.writes.DoChan(hash, func() error {
		return s.ensureChunkFile(hash, data, codec)
	})
	if err := <-errCh; err != nil {
		return chunkcodec.Hash{}, err
	}

	if err := s.Incref(hash, 1); err != nil {
		return chunkcodec.Hash{}, err
	}
	return hash, nil
}

// ensureChunkFile writes the chunk file and a zero-refcount index entry for
// hash if absent. It is only ever invoked once per in-flight hash, via
// s.writes, regardless of how many Put callers share that hash.
func (s *Store) ensureChunkFile(hash chunkcodec.Hash, data []byte, codec chunkcodec.Codec) error {
	s.mu.Lock()
	_, exists := s.index[hash]
	s.mu.Unlock()
	if exists {
		return nil
	}

	compressed, err := chunkcodec.Compress(data, codec)
	if err != nil {
		return err
	}
	framed := chunkcodec.EncodeChunkFile(codec, uint64(len(data)), compressed)

	path := s.chunkPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return repoerr.New(repoerr.Io, "chunkstore.Put", err)
	}
	if err := writeFileAtomic(path, framed, s.fileMode); err != nil {
		return repoerr.New(repoerr.Io, "chunkstore.Put", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[hash]; exists {
		return nil
	}
	s.index[hash] = indexEntry{
		Codec:      codec,
		SizeReal:   uint64(len(data)),
		SizeStored: uint64(len(compressed)),
		Refcount:   0,
	}
	return saveIndex(s.dir, s.index)
}

// Get reads and decompresses the chunk stored under hash, verifying its
// content hash. A mismatch or framing error is reported as
// repoerr.CorruptChunk.
func (s *Store) Get(hash chunkcodec.Hash) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.index[hash]
	s.mu.Unlock()
	if !ok {
		return nil, repoerr.New(repoerr.NotFound, "chunkstore.Get", nil)
	}

	raw, err := os.ReadFile(s.chunkPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repoerr.New(repoerr.CorruptChunk, "chunkstore.Get", err)
		}
		return nil, repoerr.New(repoerr.Io, "chunkstore.Get", err)
	}

	decoded, err := chunkcodec.DecodeChunkFile(raw)
	if err != nil {
		return nil, err
	}
	data, err := chunkcodec.Decompress(decoded.Payload, decoded.Codec, entry.SizeReal)
	if err != nil {
		return nil, err
	}
	if chunkcodec.Sum(data) != hash {
		return nil, repoerr.New(repoerr.CorruptChunk, "chunkstore.Get", nil)
	}
	return data, nil
}

// Incref increments hash's refcount by n. The chunk must already exist.
func (s *Store) Incref(hash chunkcodec.Hash, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[hash]
	if !ok {
		return repoerr.New(repoerr.NotFound, "chunkstore.Incref", nil)
	}
	entry.Refcount += n
	s.index[hash] = entry
	return saveIndex(s.dir, s.index)
}

// Decref decrements hash's refcount by n, floored at zero. It does not
// delete the chunk file; GC reclaims refcount-zero chunks.
func (s *Store) Decref(hash chunkcodec.Hash, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[hash]
	if !ok {
		return repoerr.New(repoerr.NotFound, "chunkstore.Decref", nil)
	}
	if n >= entry.Refcount {
		entry.Refcount = 0
	} else {
		entry.Refcount -= n
	}
	s.index[hash] = entry
	return saveIndex(s.dir, s.index)
}

// Stat reports a chunk's current index entry.
type Stat struct {
	Codec      chunkcodec.Codec
	SizeReal   uint64
	SizeStored uint64
	Refcount   uint64
}

// Stat returns the current index entry for hash.
func (s *Store) Stat(hash chunkcodec.Hash) (Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.index[hash]
	if !ok {
		return Stat{}, repoerr.New(repoerr.NotFound, "chunkstore.Stat", nil)
	}
	return Stat{Codec: entry.Codec, SizeReal: entry.SizeReal, SizeStored: entry.SizeStored, Refcount: entry.Refcount}, nil
}

// GCResult reports the outcome for a single chunk visited during GC.
type GCResult struct {
	Hash    chunkcodec.Hash
	Deleted bool
}

// GCProgress is invoked once per chunk visited during GC, after the chunk's
// fate is decided (deleted or kept).
type GCProgress func(GCResult)

// GC deletes every chunk file and index entry whose refcount is zero and
// reports the count actually removed. GC is restart-safe: if a prior run
// deleted a chunk file but crashed before removing its index entry, this run
// removes the leftover entry. GC visits only index entries, so a chunk file
// with no index entry (a crash in Put between writing the file and saving
// the index) is not removed. A
// per-chunk I/O error is reported via progress as not-deleted and GC
// continues with the remaining chunks (spec.md §4.B, §8 properties 5-6).
func (s *Store) GC(progress GCProgress) (int, error) {
	s.mu.Lock()
	var zero []chunkcodec.Hash
	for h, entry := range s.index {
		if entry.Refcount == 0 {
			zero = append(zero, h)
		}
	}
	s.mu.Unlock()

	deleted := 0
	for _, h := range zero {
		err := os.Remove(s.chunkPath(h))
		if err != nil && !os.IsNotExist(err) {
			if progress != nil {
				progress(GCResult{Hash: h, Deleted: false})
			}
			s.logger.Warn("gc: failed to remove chunk file", "hash", h.String(), "error", err)
			continue
		}
		s.mu.Lock()
		delete(s.index, h)
		saveErr := saveIndex(s.dir, s.index)
		s.mu.Unlock()
		if saveErr != nil {
			if progress != nil {
				progress(GCResult{Hash: h, Deleted: false})
			}
			return deleted, saveErr
		}
		deleted++
		if progress != nil {
			progress(GCResult{Hash: h, Deleted: true})
		}
	}
	return deleted, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpPath := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
