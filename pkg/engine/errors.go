package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for callers that map them to exit
// codes or retry decisions.
type ErrorKind string

const (
	KindInput         ErrorKind = "input"
	KindProvider      ErrorKind = "provider"
	KindTool          ErrorKind = "tool"
	KindTimeout       ErrorKind = "timeout"
	KindPolicyBlocked ErrorKind = "policy_blocked"
	KindCancelled     ErrorKind = "cancelled"
	KindFatal         ErrorKind = "fatal"
)

// Error wraps a cause with its kind. errors.Is and errors.As see through it.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err returns nil.
func E(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf wraps a formatted message with a kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindFatal when err carries no kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
