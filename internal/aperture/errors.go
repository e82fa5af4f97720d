package aperture

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers. Transport adapters map kinds to
// their own status vocabulary.
type Kind int

const (
	// KindStorage is an I/O or persistence failure. Untyped errors are treated as storage failures.
	KindStorage Kind = iota
	// KindValidation is a missing or malformed required field.
	KindValidation
	// KindAuth is a secret mismatch or an operation the device may not perform.
	KindAuth
	// KindNotFound is an unknown device or ledger entry.
	KindNotFound
	// KindConflict is a duplicate device or credential.
	KindConflict
	// KindIntegrity is a ledger entry whose backing file is gone.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindAuth:
		return "AuthError"
	case KindNotFound:
		return "NotFoundError"
	case KindConflict:
		return "ConflictError"
	case KindIntegrity:
		return "IntegrityError"
	default:
		return "StorageError"
	}
}

// Error is the error type returned across the core boundary.
// Message is safe to show to a device; Err may carry internal detail and is never exposed.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrStorage    = &Error{Kind: KindStorage}
	ErrValidation = &Error{Kind: KindValidation}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrIntegrity  = &Error{Kind: KindIntegrity}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error of the given kind wrapping err.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func storageError(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindStorage when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// MessageOf returns the device-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal storage failure"
}
