package repository

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"ddupbak/internal/archive"
	"ddupbak/internal/builder"
	"ddupbak/internal/chunkcodec"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write a.txt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("nested content"), 0o644); err != nil {
		t.Fatalf("write b.txt: %v", err)
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 1<<20, 100, []string{"ignored"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir, "", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()
	if !reopened.IsIgnored("ignored") {
		t.Fatalf("expected persisted ignored entry to survive reopen")
	}
}

func TestCreateTwiceFails(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 0, 0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer repo.Close()

	if _, err := Create(dir, 0, 0, nil, nil); err == nil {
		t.Fatalf("expected AlreadyExists on second create")
	}
}

func TestCreateAndRestoreArchive(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 1<<20, 0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer repo.Close()

	srcDir := t.TempDir()
	writeTree(t, srcDir)

	a, err := repo.CreateArchive(context.Background(), "snap1", srcDir, builder.Options{Threads: 2})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	if a.Name != "snap1" || a.ID == "" {
		t.Fatalf("unexpected archive: %+v", a)
	}

	names, err := repo.ListArchives()
	if err != nil {
		t.Fatalf("list archives: %v", err)
	}
	if len(names) != 1 || names[0] != "snap1" {
		t.Fatalf("unexpected archive list: %v", names)
	}

	got, err := repo.GetArchive("snap1")
	if err != nil {
		t.Fatalf("get archive: %v", err)
	}
	if got.ID != a.ID {
		t.Fatalf("expected persisted archive to round-trip ID")
	}

	destDir := t.TempDir()
	restoredRoot, err := repo.RestoreArchive(context.Background(), "snap1", destDir, nil, 2)
	if err != nil {
		t.Fatalf("restore archive: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(restoredRoot, "a.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected restored content: %q", data)
	}
}

func TestCreateArchiveDuplicateNameFails(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 0, 0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer repo.Close()

	srcDir := t.TempDir()
	writeTree(t, srcDir)

	if _, err := repo.CreateArchive(context.Background(), "dup", srcDir, builder.Options{Threads: 1}); err != nil {
		t.Fatalf("first create archive: %v", err)
	}
	if _, err := repo.CreateArchive(context.Background(), "dup", srcDir, builder.Options{Threads: 1}); err == nil {
		t.Fatalf("expected AlreadyExists on duplicate archive name")
	}
}

func TestDeleteArchiveReclaimsUnreferencedChunks(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 1<<20, 0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer repo.Close()

	srcDir := t.TempDir()
	writeTree(t, srcDir)

	a, err := repo.CreateArchive(context.Background(), "only", srcDir, builder.Options{Threads: 1})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}

	if err := repo.DeleteArchive("only", nil); err != nil {
		t.Fatalf("delete archive: %v", err)
	}

	for _, c := range a.ChunkTable {
		if _, err := repo.store.Stat(c.Hash); err == nil {
			t.Fatalf("expected chunk %s to be reclaimed after delete+GC", c.Hash)
		}
	}

	names, err := repo.ListArchives()
	if err != nil {
		t.Fatalf("list archives: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no archives after delete, got %v", names)
	}
}

func TestDeleteArchiveDropsMultiplyReferencedChunk(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 8, 0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer repo.Close()

	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "repeat.txt"), []byte("abcdefghabcdefgh"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := repo.CreateArchive(context.Background(), "repeat", srcDir, builder.Options{MaxChunkSize: 8, Threads: 1})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	if len(a.ChunkTable) != 1 {
		t.Fatalf("expected 1 deduplicated chunk table entry, got %d", len(a.ChunkTable))
	}
	hash := a.ChunkTable[0].Hash
	stat, err := repo.store.Stat(hash)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Refcount != 2 {
		t.Fatalf("expected refcount 2 for repeated chunk before delete, got %d", stat.Refcount)
	}

	if err := repo.DeleteArchive("repeat", nil); err != nil {
		t.Fatalf("delete archive: %v", err)
	}
	if _, err := repo.store.Stat(hash); err == nil {
		t.Fatalf("expected multiply-referenced chunk to be reclaimed after deleting its only archive")
	}
}

func TestDeleteArchiveKeepsSharedChunks(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 1<<20, 0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer repo.Close()

	srcDir := t.TempDir()
	writeTree(t, srcDir)

	if _, err := repo.CreateArchive(context.Background(), "first", srcDir, builder.Options{Threads: 1}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := repo.CreateArchive(context.Background(), "second", srcDir, builder.Options{Threads: 1})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if err := repo.DeleteArchive("first", nil); err != nil {
		t.Fatalf("delete first: %v", err)
	}

	for _, c := range second.ChunkTable {
		if _, err := repo.store.Stat(c.Hash); err != nil {
			t.Fatalf("expected chunk %s still referenced by second to survive: %v", c.Hash, err)
		}
	}
}

func TestCreateEntryReaderRandomAccess(t *testing.T) {
	dir := t.TempDir()
	repo, err := Create(dir, 8, 0, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer repo.Close()

	srcDir := t.TempDir()
	content := "0123456789abcdef0123456789abcdef"
	if err := os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := repo.CreateArchive(context.Background(), "r", srcDir, builder.Options{
		MaxChunkSize: 8,
		Threads:      1,
		Codec:        func(string, uint64) chunkcodec.Codec { return chunkcodec.Gzip },
	})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}

	entry, err := a.FindEntry("f.txt")
	if err != nil {
		t.Fatalf("find entry: %v", err)
	}
	fe, ok := entry.(*archive.FileEntry)
	if !ok {
		t.Fatalf("expected a FileEntry, got %T", entry)
	}

	reader, err := repo.CreateEntryReader(fe)
	if err != nil {
		t.Fatalf("create entry reader: %v", err)
	}
	if reader.Size() != int64(len(content)) {
		t.Fatalf("unexpected size: got %d want %d", reader.Size(), len(content))
	}

	if _, err := reader.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := reader.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := string(buf[:n]), content[10:15]; got != want {
		t.Fatalf("unexpected random-access read: got %q want %q", got, want)
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek to start: %v", err)
	}
	all := make([]byte, len(content))
	if _, err := io.ReadFull(reader, all); err != nil {
		t.Fatalf("read full: %v", err)
	}
	if string(all) != content {
		t.Fatalf("unexpected full read: got %q want %q", all, content)
	}
}
