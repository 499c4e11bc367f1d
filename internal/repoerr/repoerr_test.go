package repoerr

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(NotFound, "repository.GetArchive", nil)
	if !Is(err, NotFound) {
		t.Errorf("expected Is(err, NotFound) to be true")
	}
	if Is(err, Busy) {
		t.Errorf("expected Is(err, Busy) to be false")
	}
}

func TestWrapPassesThroughExisting(t *testing.T) {
	orig := New(CorruptChunk, "chunkcodec.Decompress", nil)
	wrapped := Wrap("chunkstore.Get", orig)
	if wrapped != error(orig) {
		t.Errorf("expected Wrap to return the original *Error unchanged")
	}
}

func TestWrapWrapsPlainError(t *testing.T) {
	cause := os.ErrNotExist
	wrapped := Wrap("chunkstore.Get", cause)
	if KindOf(wrapped) != Io {
		t.Errorf("expected Kind Io, got %v", KindOf(wrapped))
	}
	if !errors.Is(wrapped, os.ErrNotExist) {
		t.Errorf("expected wrapped error to unwrap to cause")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Errorf("expected Wrap(nil) to return nil")
	}
}

func TestKindOfNonRepoErr(t *testing.T) {
	if KindOf(errors.New("plain")) != 0 {
		t.Errorf("expected zero Kind for a non-repoerr error")
	}
}

func TestErrorMessageIncludesOpAndCause(t *testing.T) {
	err := New(Io, "chunkstore.Put", os.ErrPermission)
	msg := err.Error()
	if msg == "" {
		t.Fatalf("expected non-empty error message")
	}
	if !strings.Contains(msg, "chunkstore.Put") {
		t.Errorf("expected message to include op, got %q", msg)
	}
	if !strings.Contains(msg, os.ErrPermission.Error()) {
		t.Errorf("expected message to include cause, got %q", msg)
	}
}
