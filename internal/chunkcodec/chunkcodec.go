// Package chunkcodec implements the chunk codec (spec component 4.A): content
// hashing, per-codec compression/decompression, and the on-disk chunk file
// framing. Numeric codec ids are chosen to match the FFI header's
// CCompressionFormat enum bit-for-bit (see spec.md §9, "FFI boundary").
package chunkcodec

import (
	"bytes"
	"fmt"
	"io"

	"ddupbak/internal/format"
	"ddupbak/internal/repoerr"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"lukechampine.com/blake3"
)

// Codec identifies the compression algorithm applied to a chunk's payload.
// Values match the FFI header's CCompressionFormat enum.
type Codec byte

const (
	None    Codec = 0
	Gzip    Codec = 1
	Deflate Codec = 2
	Brotli  Codec = 3
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Deflate:
		return "deflate"
	case Brotli:
		return "brotli"
	default:
		return "unknown"
	}
}

// ValidCodec reports whether c is one of the four known codecs.
func ValidCodec(c Codec) bool {
	switch c {
	case None, Gzip, Deflate, Brotli:
		return true
	default:
		return false
	}
}

// brotliQuality is a fixed, documented compression level so that
// Compress(bytes, Brotli) is deterministic across calls and runs.
const brotliQuality = 6

// HashSize is the digest length of Hash, in bytes.
const HashSize = 32

// Hash is a 256-bit content fingerprint of a chunk's uncompressed payload.
type Hash [HashSize]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Sum returns the content hash of the uncompressed payload.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// Compress applies codec to data with a fixed, documented level. Compress is
// deterministic given (data, codec).
func Compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case None:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
		if err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		if err := w.Close(); err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		return buf.Bytes(), nil
	case Deflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		if err := w.Close(); err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		return buf.Bytes(), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{Quality: brotliQuality})
		if _, err := w.Write(data); err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		if err := w.Close(); err != nil {
			return nil, repoerr.New(repoerr.Io, "chunkcodec.Compress", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, repoerr.New(repoerr.InvalidArgument, "chunkcodec.Compress", fmt.Errorf("unknown codec %d", codec))
	}
}

// Decompress is the inverse of Compress. It fails with CorruptChunk on
// framing errors inside the codec (truncated stream, bad checksum).
func Decompress(data []byte, codec Codec, sizeReal uint64) ([]byte, error) {
	switch codec {
	case None:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, repoerr.New(repoerr.CorruptChunk, "chunkcodec.Decompress", err)
		}
		defer r.Close()
		out, err := readExactly(r, sizeReal)
		if err != nil {
			return nil, repoerr.New(repoerr.CorruptChunk, "chunkcodec.Decompress", err)
		}
		return out, nil
	case Deflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		out, err := readExactly(r, sizeReal)
		if err != nil {
			return nil, repoerr.New(repoerr.CorruptChunk, "chunkcodec.Decompress", err)
		}
		return out, nil
	case Brotli:
		r := brotli.NewReader(bytes.NewReader(data))
		out, err := readExactly(r, sizeReal)
		if err != nil {
			return nil, repoerr.New(repoerr.CorruptChunk, "chunkcodec.Decompress", err)
		}
		return out, nil
	default:
		return nil, repoerr.New(repoerr.InvalidArgument, "chunkcodec.Decompress", fmt.Errorf("unknown codec %d", codec))
	}
}

func readExactly(r io.Reader, n uint64) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	// The stream must be fully consumed; trailing bytes indicate a
	// size_real that doesn't match the real decompressed length. An error
	// other than io.EOF here is a codec framing or checksum failure that
	// surfaced at end of stream (io.ReadFull drops errors that arrive with
	// the last requested byte).
	var extra [1]byte
	k, err := r.Read(extra[:])
	if k > 0 {
		return nil, fmt.Errorf("decompressed payload longer than size_real")
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}

const (
	currentChunkFileVersion = 1

	flagCodecMask = 0x0F
)

// chunkFileHeaderLen is the framing overhead before the compressed payload:
// the 4-byte format.Header plus an 8-byte little-endian size_real.
const chunkFileHeaderLen = format.HeaderSize + 8

// EncodeChunkFile frames payload (already compressed under codec) with the
// chunk file header: magic/type/version/flags (codec folded into the low
// nibble of flags) followed by size_real and the compressed payload.
func EncodeChunkFile(codec Codec, sizeReal uint64, payload []byte) []byte {
	buf := make([]byte, chunkFileHeaderLen+len(payload))
	h := format.Header{Type: format.TypeChunkFile, Version: currentChunkFileVersion, Flags: byte(codec) & flagCodecMask}
	cursor := h.EncodeInto(buf)
	putUint64(buf[cursor:], sizeReal)
	cursor += 8
	copy(buf[cursor:], payload)
	return buf
}

// DecodedChunkFile is the parsed, still-compressed representation of a chunk
// file, before Decompress is applied.
type DecodedChunkFile struct {
	Codec    Codec
	SizeReal uint64
	Payload  []byte
}

// DecodeChunkFile parses a chunk file's framing, validating magic and
// version. It does not decompress or verify the hash; callers combine this
// with Decompress and a hash check against the expected location.
func DecodeChunkFile(buf []byte) (DecodedChunkFile, error) {
	if len(buf) < chunkFileHeaderLen {
		return DecodedChunkFile{}, repoerr.New(repoerr.CorruptChunk, "chunkcodec.DecodeChunkFile", format.ErrHeaderTooSmall)
	}
	h, err := format.DecodeAndValidate(buf, format.TypeChunkFile, currentChunkFileVersion)
	if err != nil {
		if err == format.ErrVersionMismatch {
			return DecodedChunkFile{}, repoerr.New(repoerr.UnsupportedVersion, "chunkcodec.DecodeChunkFile", err)
		}
		return DecodedChunkFile{}, repoerr.New(repoerr.CorruptChunk, "chunkcodec.DecodeChunkFile", err)
	}
	codec := Codec(h.Flags & flagCodecMask)
	if !ValidCodec(codec) {
		return DecodedChunkFile{}, repoerr.New(repoerr.CorruptChunk, "chunkcodec.DecodeChunkFile", fmt.Errorf("unknown codec %d", codec))
	}
	sizeReal := getUint64(buf[format.HeaderSize:])
	payload := buf[chunkFileHeaderLen:]
	return DecodedChunkFile{Codec: codec, SizeReal: sizeReal, Payload: payload}, nil
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}
