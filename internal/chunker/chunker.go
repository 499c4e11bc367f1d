// Package chunker implements the file chunker (spec component 4.C): fixed
// size splitting of a byte stream into chunks no larger than a configured
// maximum. Splitting is deterministic and restartable: the same bytes always
// yield the same chunk sequence.
package chunker

import (
	"bytes"
	"fmt"
	"io"

	"ddupbak/internal/repoerr"
)

// DefaultMaxChunkSize is used when a repository is created without an
// explicit chunk size (spec.md §4.C: "default on the order of 1-4 MiB").
const DefaultMaxChunkSize = 4 << 20 // 4 MiB

// Func is invoked once per chunk, in order, with that chunk's bytes. The
// slice is only valid for the duration of the call.
type Func func(data []byte) error

// Split reads r to completion, invoking fn once per chunk of at most
// maxChunkSize bytes, in order. It stops and returns the first error from
// either the underlying reader or fn.
func Split(r io.Reader, maxChunkSize int, fn Func) error {
	if maxChunkSize <= 0 {
		return repoerr.New(repoerr.InvalidArgument, "chunker.Split", fmt.Errorf("max chunk size must be positive, got %d", maxChunkSize))
	}
	buf := make([]byte, maxChunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if cbErr := fn(buf[:n]); cbErr != nil {
				return cbErr
			}
		}
		switch err {
		case nil:
			continue
		case io.EOF, io.ErrUnexpectedEOF:
			return nil
		default:
			return repoerr.New(repoerr.Io, "chunker.Split", err)
		}
	}
}

// SplitBytes is a convenience wrapper over Split for in-memory data, used by
// tests and by callers that already hold the full payload.
func SplitBytes(data []byte, maxChunkSize int) ([][]byte, error) {
	var chunks [][]byte
	err := Split(bytes.NewReader(data), maxChunkSize, func(chunk []byte) error {
		out := make([]byte, len(chunk))
		copy(out, chunk)
		chunks = append(chunks, out)
		return nil
	})
	return chunks, err
}
