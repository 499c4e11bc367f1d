package repository

import (
	"io"

	"ddupbak/internal/archive"
	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/chunkstore"
	"ddupbak/internal/repoerr"
)

// EntryReader is a random-access io.ReadSeeker over a FileEntry's content
// that hides chunk boundaries, independent of a full restore (spec.md §13,
// the FFI header's CEntryReader/entry_reader_read).
type EntryReader struct {
	store   *chunkstore.Store
	chunks  []archive.ChunkRef
	offsets []int64 // offsets[i] is the logical start offset of chunks[i]
	size    int64

	pos int64

	curIdx  int
	curData []byte // decoded bytes of chunks[curIdx], cached across reads
}

// CreateEntryReader returns an EntryReader over entry, fetching and
// decompressing chunks on demand as Read/Seek require them.
func (r *Repository) CreateEntryReader(entry *archive.FileEntry) (*EntryReader, error) {
	if entry == nil {
		return nil, repoerr.New(repoerr.InvalidArgument, "repository.CreateEntryReader", nil)
	}
	offsets := make([]int64, len(entry.Chunks))
	var size int64
	for i, c := range entry.Chunks {
		offsets[i] = size
		size += int64(c.RealLen)
	}
	return &EntryReader{
		store:   r.store,
		chunks:  entry.Chunks,
		offsets: offsets,
		size:    size,
		curIdx:  -1,
	}, nil
}

// Read implements io.Reader, returning bytes from the logical file content
// starting at the reader's current position.
func (er *EntryReader) Read(p []byte) (int, error) {
	if er.pos >= er.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && er.pos < er.size {
		idx, offsetInChunk, err := er.locate(er.pos)
		if err != nil {
			return n, err
		}
		data, err := er.chunkData(idx)
		if err != nil {
			return n, err
		}
		copied := copy(p[n:], data[offsetInChunk:])
		n += copied
		er.pos += int64(copied)
	}
	return n, nil
}

// Seek implements io.Seeker over the logical (uncompressed) file content.
func (er *EntryReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = er.pos + offset
	case io.SeekEnd:
		target = er.size + offset
	default:
		return 0, repoerr.New(repoerr.InvalidArgument, "EntryReader.Seek", nil)
	}
	if target < 0 {
		return 0, repoerr.New(repoerr.InvalidArgument, "EntryReader.Seek", nil)
	}
	er.pos = target
	return er.pos, nil
}

// Size returns the entry's logical (uncompressed) size.
func (er *EntryReader) Size() int64 {
	return er.size
}

// locate returns the chunk index containing logical offset pos, and the
// byte offset within that chunk's decoded content.
func (er *EntryReader) locate(pos int64) (int, int64, error) {
	lo, hi := 0, len(er.chunks)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		start := er.offsets[mid]
		end := start + int64(er.chunks[mid].RealLen)
		switch {
		case pos < start:
			hi = mid - 1
		case pos >= end:
			lo = mid + 1
		default:
			return mid, pos - start, nil
		}
	}
	return 0, 0, repoerr.New(repoerr.InvalidArgument, "EntryReader.Read", nil)
}

// chunkData returns the decoded content of chunks[idx], fetching and
// decompressing it through the store if not already cached from the
// previous read.
func (er *EntryReader) chunkData(idx int) ([]byte, error) {
	if idx == er.curIdx {
		return er.curData, nil
	}
	data, err := er.store.Get(er.chunks[idx].Hash)
	if err != nil {
		return nil, err
	}
	if chunkcodec.Sum(data) != er.chunks[idx].Hash {
		return nil, repoerr.New(repoerr.CorruptChunk, "EntryReader.Read", nil)
	}
	er.curIdx = idx
	er.curData = data
	return data, nil
}
