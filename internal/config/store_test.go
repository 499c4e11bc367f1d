package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingReturnsNil(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config"))
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config for missing file, got %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config"))
	cfg := &Config{
		ChunkSize:     1 << 20,
		MaxChunkCount: 1000,
		Ignored:       []string{"build", "tmp"},
		IgnoredGlobs:  []string{"*.log"},
	}
	if err := s.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ChunkSize != cfg.ChunkSize || got.MaxChunkCount != cfg.MaxChunkCount {
		t.Fatalf("unexpected config after round-trip: %+v", got)
	}
	if len(got.Ignored) != 2 || len(got.IgnoredGlobs) != 1 {
		t.Fatalf("unexpected slices after round-trip: %+v", got)
	}
}

func TestSaveOverwritesPreviousVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	s := NewStore(path)
	if err := s.Save(&Config{ChunkSize: 1}); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if err := s.Save(&Config{ChunkSize: 2}); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ChunkSize != 2 {
		t.Fatalf("expected latest save to win, got %+v", got)
	}
}

func TestLoadFutureVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(`{"version": 99, "config": {}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewStore(path)
	if _, err := s.Load(); err == nil {
		t.Fatalf("expected error for future config version")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewStore(path)
	if _, err := s.Load(); err == nil {
		t.Fatalf("expected error for corrupt config file")
	}
}
