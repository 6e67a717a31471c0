// Package dberr is the single error channel for the storage core.
//
// Every named error kind in the course project's Status enum is kept as a
// Kind here, but callers never compare integers: they use errors.Is against
// the package-level sentinels, and *Error carries the failing operation and
// (when there is one) the underlying cause through Unwrap.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies the failure without carrying any context of its own.
type Kind int

const (
	// Resource exhaustion.
	BufferExceeded Kind = iota
	InsufficientMemory

	// Lookup misses.
	NotFound
	FileEOF
	NoRecords
	EndOfPage

	// Precondition violations.
	NotPinned
	BadRID
	BadParam
	BadScan
	InvalidRecLen
	PagePinned
	BadBuffer
	BadPageNo

	// Integrity anomalies.
	IndexError
	FileExists

	// External failures.
	IOError
)

func (k Kind) String() string {
	switch k {
	case BufferExceeded:
		return "buffer exceeded"
	case InsufficientMemory:
		return "insufficient memory"
	case NotFound:
		return "not found"
	case FileEOF:
		return "file eof"
	case NoRecords:
		return "no records"
	case EndOfPage:
		return "end of page"
	case NotPinned:
		return "not pinned"
	case BadRID:
		return "bad rid"
	case BadParam:
		return "bad param"
	case BadScan:
		return "bad scan"
	case InvalidRecLen:
		return "invalid record length"
	case PagePinned:
		return "page pinned"
	case BadBuffer:
		return "bad buffer"
	case BadPageNo:
		return "bad page number"
	case IndexError:
		return "index error"
	case FileExists:
		return "file exists"
	case IOError:
		return "io error"
	default:
		return "unknown error"
	}
}

// Error is the single discriminated failure type returned across the
// storage core. Op names the failing method (e.g. "bufferpool.BufMgr.ReadPage"),
// Kind classifies the failure, and Err — when non-nil — is the underlying
// cause (an *os.PathError, another *Error from a lower layer, etc).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, dberr.Sentinel(dberr.BufferExceeded)) match on
// Kind without the caller needing to know about *Error at all.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == k.kind
}

type kindSentinel struct{ kind Kind }

func (kindSentinel) Error() string { return "" }

// Sentinel returns a value usable with errors.Is to test for a Kind,
// e.g. errors.Is(err, dberr.Sentinel(dberr.BufferExceeded)).
func Sentinel(k Kind) error { return kindSentinel{k} }

// New builds an *Error with no underlying cause.
func New(op string, k Kind) error {
	return &Error{Kind: k, Op: op}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(op string, k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	return errors.Is(err, Sentinel(k))
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
