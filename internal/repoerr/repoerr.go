// Package repoerr defines the error kinds surfaced by the repository and its
// components. Kind is not itself an error: callers match kinds with Is or
// KindOf, which find the *Error in the chain with errors.As rather than a
// type switch.
package repoerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure. The zero value is never returned by
// New; an unset Kind on a non-nil error indicates a bug in the caller.
type Kind int

const (
	// Io is an underlying filesystem failure.
	Io Kind = iota + 1
	// CorruptChunk is a header or hash mismatch on chunk read.
	CorruptChunk
	// UnsupportedVersion is a manifest or chunk header from a newer version.
	UnsupportedVersion
	// NotFound is an archive name unknown, or a chunk referenced but absent.
	NotFound
	// AlreadyExists is an archive name collision on create.
	AlreadyExists
	// InvalidArgument covers negative sizes, empty paths, non-positive thread counts.
	InvalidArgument
	// RestoreFailed is an aggregated failure of a restore pass.
	RestoreFailed
	// Busy is lock contention on the chunk index or repository directory.
	Busy
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case CorruptChunk:
		return "corrupt_chunk"
	case UnsupportedVersion:
		return "unsupported_version"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case InvalidArgument:
		return "invalid_argument"
	case RestoreFailed:
		return "restore_failed"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by exported operations. Op names
// the failing operation (e.g. "chunkstore.Put", "repository.DeleteArchive").
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error. cause may be nil.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Wrap wraps a plain error (typically from os/io) as repoerr.Io, unless it is
// already a *Error, in which case it is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(Io, op, err)
}

// KindOf returns the Kind carried by err, or 0 if err is nil or not a
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
