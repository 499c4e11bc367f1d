package archive

import (
	"encoding/binary"
	"fmt"
	"time"

	"ddupbak/internal/chunkcodec"
	"ddupbak/internal/format"
	"ddupbak/internal/repoerr"
)

const currentManifestVersion = 1

// Serialize encodes the archive into its self-describing manifest format:
// header, archive metadata, the chunk table, then the root entry tree
// encoded depth-first with explicit child counts. Save/Load are inverses:
// round-tripping a manifest produces byte-identical output given
// byte-identical input (spec.md §4.D, §8 property 3).
func (a *Archive) Serialize() ([]byte, error) {
	var w writer
	h := format.Header{Type: format.TypeManifest, Version: currentManifestVersion}
	w.writeHeader(h)
	w.writeString(a.ID)
	w.writeString(a.Name)
	w.writeInt64(a.CreatedAt.UnixNano())

	w.writeUint32(uint32(len(a.ChunkTable)))
	for _, c := range a.ChunkTable {
		w.writeBytes(c.Hash[:])
		w.writeByte(byte(c.Codec))
		w.writeUint64(c.SizeReal)
		w.writeUint64(c.SizeStored)
	}

	if err := w.writeEntry(a.Root); err != nil {
		return nil, err
	}
	return w.buf, w.err
}

// Deserialize parses a manifest previously produced by Serialize. An unknown
// version is fatal per spec.md §4.D.
func Deserialize(data []byte) (*Archive, error) {
	r := &reader{buf: data}
	hdr, err := format.DecodeAndValidate(data, format.TypeManifest, currentManifestVersion)
	if err != nil {
		if err == format.ErrVersionMismatch {
			return nil, repoerr.New(repoerr.UnsupportedVersion, "archive.Deserialize", err)
		}
		return nil, repoerr.New(repoerr.CorruptChunk, "archive.Deserialize", err)
	}
	_ = hdr
	r.pos = format.HeaderSize

	id := r.readString()
	name := r.readString()
	createdAtNano := r.readInt64()

	count := r.readUint32()
	table := make([]ChunkTableEntry, count)
	for i := range table {
		var h chunkcodec.Hash
		copy(h[:], r.readBytes(chunkcodec.HashSize))
		codec := chunkcodec.Codec(r.readByte())
		sizeReal := r.readUint64()
		sizeStored := r.readUint64()
		table[i] = ChunkTableEntry{Hash: h, Codec: codec, SizeReal: sizeReal, SizeStored: sizeStored}
	}

	root, err := r.readEntry()
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, repoerr.New(repoerr.CorruptChunk, "archive.Deserialize", r.err)
	}
	rootDir, ok := root.(*DirectoryEntry)
	if !ok {
		return nil, repoerr.New(repoerr.CorruptChunk, "archive.Deserialize", fmt.Errorf("root entry is not a directory"))
	}
	return &Archive{
		ID:         id,
		Name:       name,
		CreatedAt:  time.Unix(0, createdAtNano).UTC(),
		Root:       rootDir,
		ChunkTable: table,
	}, nil
}

// writer is a small append-only binary encoder, deliberately simple: a
// manifest is written once per archive, never on a hot path.
type writer struct {
	buf []byte
	err error
}

func (w *writer) writeHeader(h format.Header) {
	b := h.Encode()
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeByte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) writeBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) writeUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeInt64(v int64) { w.writeUint64(uint64(v)) }

func (w *writer) writeString(s string) {
	w.writeUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) writeCommon(c EntryCommon) {
	w.writeString(c.Name)
	w.writeUint32(c.Mode)
	w.writeUint32(c.UID)
	w.writeUint32(c.GID)
	w.writeInt64(c.MTime)
}

func (w *writer) writeEntry(e Entry) error {
	if w.err != nil {
		return w.err
	}
	w.writeByte(byte(e.Type()))
	w.writeCommon(e.Common())
	switch ent := e.(type) {
	case *FileEntry:
		w.writeByte(byte(ent.Compression))
		w.writeUint64(ent.SizeReal)
		w.writeUint64(ent.SizeCompressed)
		w.writeUint32(uint32(len(ent.Chunks)))
		for _, c := range ent.Chunks {
			w.writeBytes(c.Hash[:])
			w.writeUint64(c.RealLen)
			w.writeUint64(c.StoredLen)
		}
	case *DirectoryEntry:
		w.writeUint32(uint32(len(ent.Children)))
		for _, child := range ent.Children {
			if err := w.writeEntry(child); err != nil {
				return err
			}
		}
	case *SymlinkEntry:
		w.writeString(ent.Target)
		if ent.TargetDir {
			w.writeByte(1)
		} else {
			w.writeByte(0)
		}
	default:
		return repoerr.New(repoerr.InvalidArgument, "archive.Serialize", fmt.Errorf("unknown entry type %T", e))
	}
	return nil
}

// reader is the inverse of writer: a cursor-based binary decoder that
// records the first error and becomes a no-op thereafter, so callers need
// only check err once at the end.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("manifest truncated at offset %d, need %d more bytes", r.pos, n)
		return false
	}
	return true
}

func (r *reader) readByte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *reader) readBytes(n int) []byte {
	if !r.need(n) {
		return make([]byte, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) readUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) readUint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) readInt64() int64 { return int64(r.readUint64()) }

func (r *reader) readString() string {
	n := r.readUint32()
	if !r.need(int(n)) {
		return ""
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}

func (r *reader) readCommon() EntryCommon {
	return EntryCommon{
		Name:  r.readString(),
		Mode:  r.readUint32(),
		UID:   r.readUint32(),
		GID:   r.readUint32(),
		MTime: r.readInt64(),
	}
}

func (r *reader) readEntry() (Entry, error) {
	if r.err != nil {
		return nil, r.err
	}
	typ := EntryType(r.readByte())
	common := r.readCommon()
	switch typ {
	case TypeFile:
		compression := chunkcodec.Codec(r.readByte())
		sizeReal := r.readUint64()
		sizeCompressed := r.readUint64()
		n := r.readUint32()
		chunks := make([]ChunkRef, n)
		for i := range chunks {
			var h chunkcodec.Hash
			copy(h[:], r.readBytes(chunkcodec.HashSize))
			chunks[i] = ChunkRef{Hash: h, RealLen: r.readUint64(), StoredLen: r.readUint64()}
		}
		if r.err != nil {
			return nil, r.err
		}
		return &FileEntry{
			EntryCommon:    common,
			Compression:    compression,
			SizeReal:       sizeReal,
			SizeCompressed: sizeCompressed,
			Chunks:         chunks,
		}, nil
	case TypeDirectory:
		n := r.readUint32()
		children := make([]Entry, n)
		for i := range children {
			child, err := r.readEntry()
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		if r.err != nil {
			return nil, r.err
		}
		return &DirectoryEntry{EntryCommon: common, Children: children}, nil
	case TypeSymlink:
		target := r.readString()
		targetDir := r.readByte() != 0
		if r.err != nil {
			return nil, r.err
		}
		return &SymlinkEntry{EntryCommon: common, Target: target, TargetDir: targetDir}, nil
	default:
		return nil, repoerr.New(repoerr.CorruptChunk, "archive.Deserialize", fmt.Errorf("unknown entry type tag %d", typ))
	}
}
