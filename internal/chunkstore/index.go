package chunkstore

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/repoerr"
)

const currentIndexVersion = 1

// indexEntry is the chunk index row (spec.md §3, "Chunk index").
type indexEntry struct {
	Codec      chunkcodec.Codec `json:"codec"`
	SizeReal   uint64           `json:"size_real"`
	SizeStored uint64           `json:"size_stored"`
	Refcount   uint64           `json:"refcount"`
}

// indexEnvelope is the versioned on-disk format, following the same
// JSON-envelope-plus-temp-file-rename pattern as the repository config
// (internal/config), adapted from the teacher's internal/config/file/store.go.
type indexEnvelope struct {
	Version int                   `json:"version"`
	Entries map[string]indexEntry `json:"entries"`
}

const indexFileName = "index"

func loadIndex(dir string) (map[chunkcodec.Hash]indexEntry, error) {
	path := filepath.Join(dir, indexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[chunkcodec.Hash]indexEntry), nil
		}
		return nil, repoerr.New(repoerr.Io, "chunkstore.loadIndex", err)
	}
	var env indexEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, repoerr.New(repoerr.CorruptChunk, "chunkstore.loadIndex", err)
	}
	if env.Version > currentIndexVersion {
		return nil, repoerr.New(repoerr.UnsupportedVersion, "chunkstore.loadIndex", nil)
	}
	out := make(map[chunkcodec.Hash]indexEntry, len(env.Entries))
	for key, entry := range env.Entries {
		raw, err := hex.DecodeString(key)
		if err != nil || len(raw) != chunkcodec.HashSize {
			return nil, repoerr.New(repoerr.CorruptChunk, "chunkstore.loadIndex", err)
		}
		var h chunkcodec.Hash
		copy(h[:], raw)
		out[h] = entry
	}
	return out, nil
}

func saveIndex(dir string, entries map[chunkcodec.Hash]indexEntry) error {
	env := indexEnvelope{Version: currentIndexVersion, Entries: make(map[string]indexEntry, len(entries))}
	for h, entry := range entries {
		env.Entries[hex.EncodeToString(h[:])] = entry
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return repoerr.New(repoerr.Io, "chunkstore.saveIndex", err)
	}
	path := filepath.Join(dir, indexFileName)
	tmpPath := filepath.Join(dir, ".index-"+uuid.NewString()+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return repoerr.New(repoerr.Io, "chunkstore.saveIndex", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return repoerr.New(repoerr.Io, "chunkstore.saveIndex", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return repoerr.New(repoerr.Io, "chunkstore.saveIndex", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return repoerr.New(repoerr.Io, "chunkstore.saveIndex", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return repoerr.New(repoerr.Io, "chunkstore.saveIndex", err)
	}
	return nil
}
