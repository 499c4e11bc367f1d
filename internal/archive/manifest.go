package archive

import (
	"strings"
	"time"

	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/repoerr"
)

// ChunkTableEntry is one row of a manifest's self-contained chunk table: it
// lets a restore proceed without consulting the repository's global chunk
// index (spec.md §4.D).
type ChunkTableEntry struct {
	Hash       chunkcodec.Hash
	Codec      chunkcodec.Codec
	SizeReal   uint64
	SizeStored uint64
}

// Archive is a named, immutable manifest: a root directory entry plus
// metadata and the chunk table that makes the manifest self-describing.
//
// ID is a stable identity independent of Name (which is also the archive's
// file name under archives/), generated once at build time with a UUIDv7,
// following the teacher's uuid.Must(uuid.NewV7()) convention for resource
// identifiers.
type Archive struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	Root       *DirectoryEntry
	ChunkTable []ChunkTableEntry
}

// FindEntry resolves a slash-separated relative path to an Entry by walking
// the directory tree depth-first. Returns NotFound if no such path exists.
// Grounded on the FFI header's archive_find_entry.
func (a *Archive) FindEntry(path string) (Entry, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return a.Root, nil
	}
	segments := strings.Split(path, "/")
	var current Entry = a.Root
	for _, seg := range segments {
		dir, ok := current.(*DirectoryEntry)
		if !ok {
			return nil, repoerr.New(repoerr.NotFound, "archive.FindEntry", nil)
		}
		var next Entry
		for _, child := range dir.Children {
			if child.Common().Name == seg {
				next = child
				break
			}
		}
		if next == nil {
			return nil, repoerr.New(repoerr.NotFound, "archive.FindEntry", nil)
		}
		current = next
	}
	return current, nil
}
