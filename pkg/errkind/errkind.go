// Package errkind classifies sweep failures so callers can tell an auditor
// crash from a storage problem without string matching.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the failure class of an Error.
type Kind int

const (
	// Audit is an auditor engine failure: page unreachable, browser crash.
	Audit Kind = iota + 1

	// Storage is a raw report file or metric record read/write failure.
	Storage

	// Extraction is a raw report missing its required structure.
	Extraction

	// Timeout is an audit that exceeded its deadline.
	Timeout
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Audit:
		return "audit"
	case Storage:
		return "storage"
	case Extraction:
		return "extraction"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any Error of the same kind.
var (
	ErrAudit      = &Error{Kind: Audit}
	ErrStorage    = &Error{Kind: Storage}
	ErrExtraction = &Error{Kind: Extraction}
	ErrTimeout    = &Error{Kind: Timeout}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the operation that failed.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}

	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// KindOf returns the kind of the first Error in err's chain, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// FromContext classifies an error raised while ctx was active. A deadline
// becomes a Timeout, anything else gets the fallback kind.
func FromContext(ctx context.Context, fallback Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return New(Timeout, op, err)
	}

	return New(fallback, op, err)
}
