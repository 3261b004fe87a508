// Package engineerr classifies the error taxonomy the aggregation core can
// raise: configuration mistakes caught at setup time, recoverable resource
// exhaustion that drives the spill/merge path, and the handful of fatal
// conditions that abort a run.
package engineerr

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind classifies an error without tying callers to a specific message.
type Kind int

const (
	// InvalidConfiguration covers missing keys, conflicting options, and
	// unsupported plugin/limit combinations caught before the first Add.
	InvalidConfiguration Kind = iota
	// ResourceExhausted covers allocation failure or file-handle exhaustion.
	// It always has a recovery path; it is fatal only on a second
	// consecutive occurrence at the same call site.
	ResourceExhausted
	// CorruptTempFile covers short reads, unexpected EOF, and out-of-order
	// keys observed while reading back a run this process wrote.
	CorruptTempFile
	// RecordIoError wraps an error surfaced by the external record provider.
	RecordIoError
	// Overflow marks arithmetic saturation on an additive merge. It is
	// non-fatal; one diagnostic is emitted per occurrence.
	Overflow
)

func (k Kind) String() string {
	switch k {
	case InvalidConfiguration:
		return "InvalidConfiguration"
	case ResourceExhausted:
		return "ResourceExhausted"
	case CorruptTempFile:
		return "CorruptTempFile"
	case RecordIoError:
		return "RecordIoError"
	case Overflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across package boundaries in
// the core. It carries a Kind so callers can branch on category without
// string matching, and wraps an underlying cause when one exists.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "RandomUniq.Add"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a non-fatal classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Fatal wraps an error that aborts the current run (the uniq pipelines use
// it for a second consecutive ResourceExhausted) with a captured stack, so
// that whatever teardown path logs it upstream keeps the original frame.
// Grounded on go-errors/errors, the stack-preserving wrapper used for
// panics-turned-errors across jesseduffield-lazydocker.
func Fatal(kind Kind, op, message string, cause error) error {
	wrapped := Wrap(kind, op, message, cause)
	return goerrors.WrapPrefix(wrapped, "fatal", 1)
}

// Is reports whether err is a classified *Error of the given Kind,
// unwrapping go-errors/errors wrappers produced by Fatal along the way.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		if ge, ok := err.(*goerrors.Error); ok {
			err = ge.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
