package vcs

import (
	"errors"
	"fmt"
)

// Common errors returned by history store operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrNotFound) {
//	    // Show "not available" instead of failing
//	}
var (
	// ErrStoreInit is returned when the store cannot be created or opened.
	// It is fatal to the folder's scheduler until resolved.
	ErrStoreInit = errors.New("history store cannot be initialized")

	// ErrCommit is returned when a commit attempt failed.
	ErrCommit = errors.New("commit failed")

	// ErrNotFound is returned when a path or ref does not exist at the
	// requested point in history.
	ErrNotFound = errors.New("not found in history")

	// ErrIO is returned when reading or writing the working tree failed.
	ErrIO = errors.New("file I/O failed")

	// ErrRelocationConflict is returned when a relocation hit an unexpected
	// state, e.g. the relocated store could not be verified. Completed steps
	// are not undone.
	ErrRelocationConflict = errors.New("relocation conflict")

	// ErrSourceMissing is returned when relocating a store that does not
	// exist at its current location.
	ErrSourceMissing = errors.New("history store missing at source location")

	// ErrVCSNotAvailable is returned when the backend binary is not
	// installed or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")
)

// Error is a typed history store failure. Kind is one of the sentinel
// errors above; Err carries the original failure.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// NewError creates a typed error of the given kind.
func NewError(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IsNotFound returns true if the error means the requested content is not
// available at that point in history.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal returns true if the error stops a folder's scheduler until the
// underlying problem is resolved.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrStoreInit) {
		return true
	}

	if errors.Is(err, ErrVCSNotAvailable) {
		return true
	}

	return false
}
