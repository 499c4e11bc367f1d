// Package archive implements the archive model (spec component 4.D): an
// in-memory tree of entries with chunk references, and its serialized
// manifest representation.
//
// Entry is modeled as a Go sum type: an interface implemented by exactly
// three concrete types (FileEntry, DirectoryEntry, SymlinkEntry), matched
// exhaustively with type switches rather than through inheritance or shared
// virtual methods (see spec.md §9, "Tagged entry variants").
package archive

import "ddupbak/internal/chunkcodec"

// EntryType is the FFI-stable discriminator for an Entry's concrete type.
// Numeric values match the header's CEntryType enum bit-for-bit.
type EntryType byte

const (
	TypeFile      EntryType = 0
	TypeDirectory EntryType = 1
	TypeSymlink   EntryType = 2
)

// EntryCommon holds the fields shared by every entry variant.
type EntryCommon struct {
	Name  string // path segment, not a full path
	Mode  uint32 // POSIX permission bits
	UID   uint32
	GID   uint32
	MTime int64 // seconds since epoch
}

// Entry is implemented by FileEntry, DirectoryEntry and SymlinkEntry only.
type Entry interface {
	Type() EntryType
	Common() EntryCommon
}

// ChunkRef is an ordered reference to a chunk within a FileEntry's content.
type ChunkRef struct {
	Hash      chunkcodec.Hash
	RealLen   uint64
	StoredLen uint64
}

// FileEntry is a regular file: an ordered list of chunk references whose
// concatenation (after per-chunk decompression) equals the file content.
type FileEntry struct {
	EntryCommon
	Compression    chunkcodec.Codec
	SizeReal       uint64 // logical size
	SizeCompressed uint64 // sum of stored chunk bytes
	Chunks         []ChunkRef
}

func (e *FileEntry) Type() EntryType    { return TypeFile }
func (e *FileEntry) Common() EntryCommon { return e.EntryCommon }

// DirectoryEntry is a directory: an ordered list of child entries. Order is
// preserved bit-for-bit across save/load (spec.md §3 invariant).
type DirectoryEntry struct {
	EntryCommon
	Children []Entry
}

func (e *DirectoryEntry) Type() EntryType    { return TypeDirectory }
func (e *DirectoryEntry) Common() EntryCommon { return e.EntryCommon }

// SymlinkEntry is a symbolic link, recorded but never followed by the
// builder.
type SymlinkEntry struct {
	EntryCommon
	Target    string
	TargetDir bool // hint for platforms that distinguish file/dir symlinks
}

func (e *SymlinkEntry) Type() EntryType    { return TypeSymlink }
func (e *SymlinkEntry) Common() EntryCommon { return e.EntryCommon }
