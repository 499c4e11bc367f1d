package chunkstore

import (
	"sync"
	"testing"

	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/repoerr"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	data := []byte("hello, this is chunk content")
	hash, err := s.Put(data, chunkcodec.Gzip)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round-trip mismatch: got %q", got)
	}

	stat, err := s.Stat(hash)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Refcount != 1 {
		t.Errorf("expected refcount 1, got %d", stat.Refcount)
	}
}

func TestPutDeduplicates(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	data := []byte("abcdefghabcdefgh")
	h1, err := s.Put(data, chunkcodec.None)
	if err != nil {
		t.Fatalf("put 1: %v", err)
	}
	h2, err := s.Put(data, chunkcodec.None)
	if err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes for identical content")
	}
	stat, err := s.Stat(h1)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Refcount != 2 {
		t.Errorf("expected refcount 2 after two puts, got %d", stat.Refcount)
	}
}

func TestPutConcurrentIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	data := []byte("concurrent put content")
	const n = 16
	var wg sync.WaitGroup
	hashes := make([]chunkcodec.Hash, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = s.Put(data, chunkcodec.Deflate)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if hashes[i] != hashes[0] {
			t.Fatalf("expected identical hash across concurrent puts")
		}
	}
	stat, err := s.Stat(hashes[0])
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Refcount != n {
		t.Errorf("expected refcount %d, got %d", n, stat.Refcount)
	}
}

func TestGetNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var h chunkcodec.Hash
	if _, err := s.Get(h); repoerr.KindOf(err) != repoerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestIncrefDecrefAndGC(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	data := []byte("garbage collected chunk")
	hash, err := s.Put(data, chunkcodec.Brotli)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Decref(hash, 1); err != nil {
		t.Fatalf("decref: %v", err)
	}

	stat, err := s.Stat(hash)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Refcount != 0 {
		t.Fatalf("expected refcount 0, got %d", stat.Refcount)
	}

	var results []GCResult
	n, err := s.GC(func(r GCResult) { results = append(results, r) })
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk collected, got %d", n)
	}
	if len(results) != 1 || !results[0].Deleted || results[0].Hash != hash {
		t.Fatalf("unexpected gc results: %+v", results)
	}

	if _, err := s.Stat(hash); repoerr.KindOf(err) != repoerr.NotFound {
		t.Fatalf("expected chunk removed from index after gc, got %v", err)
	}
}

func TestGCKeepsReferencedChunks(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	hash, err := s.Put([]byte("kept chunk"), chunkcodec.None)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	n, err := s.GC(nil)
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 chunks collected, got %d", n)
	}
	if _, err := s.Get(hash); err != nil {
		t.Fatalf("expected chunk to survive gc: %v", err)
	}
}

func TestOpenLocksDirectory(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s1.Close()

	if _, err := Open(Config{Dir: dir}); repoerr.KindOf(err) != repoerr.Busy {
		t.Fatalf("expected Busy from second open, got %v", err)
	}
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	hash, err := s.Put([]byte("persisted content"), chunkcodec.Gzip)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(hash)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != "persisted content" {
		t.Fatalf("unexpected content after reopen: %q", got)
	}
}

func TestDecrefFloorsAtZero(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	hash, err := s.Put([]byte("floor test"), chunkcodec.None)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Decref(hash, 100); err != nil {
		t.Fatalf("decref: %v", err)
	}
	stat, err := s.Stat(hash)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Refcount != 0 {
		t.Fatalf("expected refcount floored at 0, got %d", stat.Refcount)
	}
}
