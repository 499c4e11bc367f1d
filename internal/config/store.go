package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ddupbak/internal/repoerr"
)

// Store persists Config as a versioned JSON envelope
// (`{"version": N, "config": {...}}`), written via create-temp + rename
// with round-trip validation, following the teacher's
// internal/config/file/store.go pattern.
const currentVersion = 1

type envelope struct {
	Version int     `json:"version"`
	Config  *Config `json:"config"`
}

// Store is a file-based configuration store for a single repository.
type Store struct {
	path string
}

// NewStore returns a Store backed by the JSON file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the config from disk. Returns nil, nil if the file does not
// exist (a fresh repository has not yet called Save).
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, repoerr.New(repoerr.Io, "config.Load", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, repoerr.New(repoerr.CorruptChunk, "config.Load", err)
	}
	if env.Version > currentVersion {
		return nil, repoerr.New(repoerr.UnsupportedVersion, "config.Load", fmt.Errorf("config version %d newer than supported %d", env.Version, currentVersion))
	}
	if env.Version < currentVersion {
		migrated, err := migrate(data, env.Version)
		if err != nil {
			return nil, repoerr.New(repoerr.Io, "config.Load", err)
		}
		if err := json.Unmarshal(migrated, &env); err != nil {
			return nil, repoerr.New(repoerr.CorruptChunk, "config.Load", err)
		}
	}
	return env.Config, nil
}

// Save atomically writes cfg to disk with round-trip validation.
func (s *Store) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return repoerr.New(repoerr.Io, "config.Save", err)
	}

	env := envelope{Version: currentVersion, Config: cfg}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return repoerr.New(repoerr.Io, "config.Save", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return repoerr.New(repoerr.Io, "config.Save", err)
	}

	check, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return repoerr.New(repoerr.Io, "config.Save", err)
	}
	var verify envelope
	if err := json.Unmarshal(check, &verify); err != nil {
		os.Remove(tmpPath)
		return repoerr.New(repoerr.CorruptChunk, "config.Save", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return repoerr.New(repoerr.Io, "config.Save", err)
	}
	return nil
}
