package permanent

import (
	"errors"
	"fmt"
)

// Error marks input that will fail the same way on every retry.
// Params: short machine-readable reason and wrapped cause.
// Returns: typed non-retryable error.
type Error struct {
	Reason string
	Err    error
}

// Error returns reason-prefixed cause text.
func (e *Error) Error() string {
	switch {
	case e.Err == nil && e.Reason == "":
		return "permanent error"
	case e.Err == nil:
		return e.Reason
	case e.Reason == "":
		return e.Err.Error()
	default:
		return e.Reason + ": " + e.Err.Error()
	}
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Mark wraps err with reason.
// Params: reason label and source error.
// Returns: wrapped error or nil for nil input.
func Mark(reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Reason: reason, Err: err}
}

// Markf builds a permanent error from a format string.
func Markf(reason, format string, args ...any) error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries a permanent marker.
func Is(err error) bool {
	var tagged *Error
	return errors.As(err, &tagged)
}

// ReasonOf returns reason of the outermost permanent marker.
// Params: candidate error.
// Returns: reason label or empty string when err is retryable.
func ReasonOf(err error) string {
	var tagged *Error
	if !errors.As(err, &tagged) {
		return ""
	}
	return tagged.Reason
}
