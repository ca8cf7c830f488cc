// Package errs defines the error taxonomy shared by every EntiDB package.
//
// Errors are surfaced to the caller, never swallowed. Every exported
// function that can fail wraps the underlying cause through New so a
// caller can branch on Kind via Is, while %w still unwraps down to the
// original error for errors.Is/errors.As.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec.md §7 enumerates them.
type Kind int

const (
	// Unknown is the zero value; never returned by this package.
	Unknown Kind = iota
	InvalidArgument
	InvalidState
	NotFound
	ConstraintViolation
	CryptoError
	IoError
	InternalError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidState:
		return "InvalidState"
	case NotFound:
		return "NotFound"
	case ConstraintViolation:
		return "ConstraintViolation"
	case CryptoError:
		return "CryptoError"
	case IoError:
		return "IoError"
	case InternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error. err may be nil when the failure has no
// underlying cause (e.g. a plain validation rejection).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
