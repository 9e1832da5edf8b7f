// Package apperror defines the SyncML-aligned error taxonomy that every
// other component raises and that the object-bus layer (internal/bus)
// converts into typed method-call failures (spec.md §7).
package apperror

import (
	"errors"
	"fmt"
)

// Code names one taxonomy entry. The string value doubles as the
// "org.syncevolution.<Code>" bus error name suffix.
type Code string

const (
	// NoSuchConfig: referenced config not present.
	NoSuchConfig Code = "NoSuchConfig"
	// NoSuchSource: referenced source absent from the named config.
	NoSuchSource Code = "NoSuchSource"
	// SourceUnusable: CheckSource opened the backend but it failed its self-test.
	SourceUnusable Code = "SourceUnusable"
	// InvalidCall: method invoked in a state that disallows it, including an
	// unknown config property or an out-of-range value.
	InvalidCall Code = "InvalidCall"
	// TransportFailure: wire-level failure, classified temporary.
	TransportFailure Code = "TransportFailure"
	// StatusDatastoreFailure: generic backend error, classified permanent.
	StatusDatastoreFailure Code = "StatusDatastoreFailure"
	// StatusUserAbort: explicit abort() or SIGINT.
	StatusUserAbort Code = "StatusUserAbort"
	// StatusPasswordTimeout: credential not supplied in time.
	StatusPasswordTimeout Code = "StatusPasswordTimeout"
	// StatusSlowSync508: engine-level demand for slow resync.
	StatusSlowSync508 Code = "StatusSlowSync508"
)

// temporary marks which codes the auto-sync manager and transport retry
// policy treat as transient vs. permanent (spec.md §7 Recovery).
var temporary = map[Code]bool{
	TransportFailure: true,
}

// Error is a typed application error carrying a taxonomy Code, an
// optional source name, and the wrapped cause.
type Error struct {
	Code    Code
	Source  string
	Action  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Source != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Source)
	}
	if e.Action != "" {
		prefix = fmt.Sprintf("%s:%s", prefix, e.Action)
	}
	if e.Message != "" {
		prefix = fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Cause)
	}
	return prefix
}

func (e *Error) Unwrap() error { return e.Cause }

// Temporary reports whether the error's code is retryable (spec.md §7:
// "permanent_failure suppresses retry until the config changes").
func (e *Error) Temporary() bool { return temporary[e.Code] }

// New constructs an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error from cause, tagged with the given source and
// the action that was being attempted (spec.md §7 Propagation: "Backend
// errors are wrapped with source name and the attempted action").
func Wrap(code Code, source, action string, cause error) *Error {
	return &Error{Code: code, Source: source, Action: action, Cause: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, returning ("", false) otherwise.
func CodeOf(err error) (Code, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsTemporary reports whether err should be retried, per spec.md §7
// Recovery. Errors that are not *Error are treated as permanent.
func IsTemporary(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Temporary()
	}
	return false
}

// BusErrorName returns the "org.syncevolution.<Code>" name bus clients
// key off (spec.md §7: "structured-exception classes carry their error
// name").
func BusErrorName(code Code) string {
	return "org.syncevolution." + string(code)
}
