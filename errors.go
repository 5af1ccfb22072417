package acorn

import (
	"errors"
	"fmt"

	"github.com/mattnlane/acorn/internal/segment"
	"github.com/mattnlane/acorn/internal/wal"
)

// Kind classifies an Error so callers can branch on failure category
// without string-matching messages.
type Kind int

const (
	// KindFile covers filesystem-level failures: permission errors, disk
	// full, unexpected I/O errors from the host OS.
	KindFile Kind = iota
	// KindWalNotInitialized is returned by WAL operations attempted
	// before Create or Open has run.
	KindWalNotInitialized
	// KindNotAWalFile means a generation or segment file's magic header
	// didn't match.
	KindNotAWalFile
	// KindCorrupted means a file's bytes failed a checksum or otherwise
	// couldn't be decoded, outside of the tolerated torn-tail window.
	KindCorrupted
	// KindPageSizeMismatch means a file's recorded page size disagrees
	// with the configured one.
	KindPageSizeMismatch
	// KindByteOrderMismatch means a file's recorded byte order disagrees
	// with the configured one.
	KindByteOrderMismatch
	// KindUnknownPageKind means a page's format tag isn't recognized by
	// this version of the engine.
	KindUnknownPageKind
	// KindUnexpectedPageKind means a page was read in a context that
	// requires a different kind of page than the one actually stored.
	KindUnexpectedPageKind
	// KindPageFormat means a page's body failed to decode even though its
	// kind tag was recognized.
	KindPageFormat
	// KindPageIndexOutOfBounds means a PageAddress referenced a page
	// number past the bounds the engine tracks for its segment.
	KindPageIndexOutOfBounds
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindWalNotInitialized:
		return "wal not initialized"
	case KindNotAWalFile:
		return "not a wal file"
	case KindCorrupted:
		return "corrupted"
	case KindPageSizeMismatch:
		return "page size mismatch"
	case KindByteOrderMismatch:
		return "byte order mismatch"
	case KindUnknownPageKind:
		return "unknown page kind"
	case KindUnexpectedPageKind:
		return "unexpected page kind"
	case KindPageFormat:
		return "page format"
	case KindPageIndexOutOfBounds:
		return "page index out of bounds"
	default:
		return "unknown"
	}
}

// Error is the error type every exported Engine operation that can fail
// with a classifiable cause returns, wrapping the underlying cause so
// errors.Is/errors.As still see through to it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acorn: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("acorn: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps err as an Error of the given kind, tagged with op for
// context (e.g. "open", "read", "write").
func newError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classifyErr maps a sentinel error from internal/wal or internal/segment
// to its Kind, falling back to defaultKind when err matches none of them.
func classifyErr(err error, defaultKind Kind) Kind {
	switch {
	case errors.Is(err, wal.ErrWalNotInitialized):
		return KindWalNotInitialized
	case errors.Is(err, wal.ErrNotAWalFile):
		return KindNotAWalFile
	case errors.Is(err, wal.ErrPageSizeMismatch), errors.Is(err, segment.ErrPageSizeMismatch):
		return KindPageSizeMismatch
	case errors.Is(err, wal.ErrByteOrderMismatch), errors.Is(err, segment.ErrByteOrderMismatch):
		return KindByteOrderMismatch
	case errors.Is(err, wal.ErrCorrupted), errors.Is(err, segment.ErrCorrupted):
		return KindCorrupted
	case errors.Is(err, segment.ErrBadMagic):
		return KindNotAWalFile
	default:
		return defaultKind
	}
}

// wrapErr wraps err as an *Error, classifying it against the known
// sentinels and falling back to defaultKind for anything else.
func wrapErr(op string, defaultKind Kind, err error) error {
	if err == nil {
		return nil
	}
	return newError(op, classifyErr(err, defaultKind), err)
}
