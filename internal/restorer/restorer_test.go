package restorer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ddupbak/internal/builder"
	"ddupbak/internal/chunkstore"
)

func newTestStore(t *testing.T) *chunkstore.Store {
	t.Helper()
	s, err := chunkstore.Open(chunkstore.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRestoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	srcRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("abcdefghabcdefgh"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(srcRoot, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "sub", "b.txt"), []byte("nested file content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := builder.Build(context.Background(), srcRoot, builder.Options{
		Store:        store,
		Name:         "round-trip",
		MaxChunkSize: 8,
		Threads:      2,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	destRoot := filepath.Join(t.TempDir(), "restored")
	restored, err := Restore(context.Background(), a, destRoot, Options{Store: store, Threads: 2})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(restored, "a.txt"))
	if err != nil {
		t.Fatalf("read restored a.txt: %v", err)
	}
	if string(got) != "abcdefghabcdefgh" {
		t.Errorf("unexpected restored content: %q", got)
	}

	got2, err := os.ReadFile(filepath.Join(restored, "sub", "b.txt"))
	if err != nil {
		t.Fatalf("read restored sub/b.txt: %v", err)
	}
	if string(got2) != "nested file content" {
		t.Errorf("unexpected restored content: %q", got2)
	}
}

func TestRestoreSymlink(t *testing.T) {
	store := newTestStore(t)
	srcRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("a.txt", filepath.Join(srcRoot, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	a, err := builder.Build(context.Background(), srcRoot, builder.Options{Store: store, Name: "links", Threads: 1})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	destRoot := filepath.Join(t.TempDir(), "restored")
	restored, err := Restore(context.Background(), a, destRoot, Options{Store: store, Threads: 1})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	target, err := os.Readlink(filepath.Join(restored, "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "a.txt" {
		t.Errorf("expected symlink target a.txt, got %q", target)
	}
}

func TestRestoreReportsProgressOncePerFile(t *testing.T) {
	store := newTestStore(t)
	srcRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("one"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "b.txt"), []byte("two"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := builder.Build(context.Background(), srcRoot, builder.Options{Store: store, Name: "progress", Threads: 1})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var seen []string
	destRoot := filepath.Join(t.TempDir(), "restored")
	if _, err := Restore(context.Background(), a, destRoot, Options{
		Store:    store,
		Threads:  1,
		Progress: func(path string) { seen = append(seen, path) },
	}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected progress called twice, got %d: %v", len(seen), seen)
	}
}

func TestRestoreInvalidArgument(t *testing.T) {
	store := newTestStore(t)
	if _, err := Restore(context.Background(), nil, t.TempDir(), Options{Store: store}); err == nil {
		t.Fatalf("expected error for nil archive")
	}
}
