// Package clerrors provides the structured error taxonomy used across the
// indexing and search engine. Errors carry a closed Kind, an optional cause,
// and free-form details for diagnostics, instead of ad hoc sentinel values.
package clerrors

import "fmt"

// Kind is the closed set of error categories the engine can surface.
type Kind string

const (
	OutOfRepo             Kind = "OutOfRepo"
	StoreBusy             Kind = "StoreBusy"
	StoreCorrupt          Kind = "StoreCorrupt"
	SchemaIncompatible    Kind = "SchemaIncompatible"
	PluginLoadFailed      Kind = "PluginLoadFailed"
	PluginLoadTimeout     Kind = "PluginLoadTimeout"
	ParseTimeout          Kind = "ParseTimeout"
	ParseError            Kind = "ParseError"
	EmbedderUnavailable   Kind = "EmbedderUnavailable"
	VectorStoreUnavailable Kind = "VectorStoreUnavailable"
	IncompatibleArtifact  Kind = "IncompatibleArtifact"
	Unauthorized          Kind = "Unauthorized"
	Cancelled             Kind = "Cancelled"
	InvalidPath           Kind = "InvalidPath"
	NotFound              Kind = "NotFound"
	Internal              Kind = "Internal"
)

// fatal marks the kinds that must abort startup rather than degrade.
var fatal = map[Kind]bool{
	StoreCorrupt:       true,
	SchemaIncompatible: true,
}

// retryable marks kinds where the caller may reasonably retry with backoff.
var retryable = map[Kind]bool{
	StoreBusy:              true,
	EmbedderUnavailable:    true,
	VectorStoreUnavailable: true,
	ParseTimeout:           true,
	PluginLoadTimeout:      true,
}

// Error is the engine's structured error type. It implements the standard
// error interface and supports errors.Is/errors.As via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Path    string
	Cause   error
	Data    map[string]any
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by Kind, so errors.Is(err, clerrors.New(NotFound, "")) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithPath attaches the repo-relative path the error concerns and returns
// the receiver for chaining.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithData attaches a diagnostic key-value pair and returns the receiver.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// IsFatal reports whether err, or any error in its chain, carries a kind
// that must abort startup (StoreCorrupt, SchemaIncompatible).
func IsFatal(err error) bool {
	e, ok := asError(err)
	return ok && fatal[e.Kind]
}

// IsRetryable reports whether the caller may retry the operation with
// backoff.
func IsRetryable(err error) bool {
	e, ok := asError(err)
	return ok && retryable[e.Kind]
}

// KindOf extracts the Kind from err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok {
		return e.Kind
	}
	return Internal
}

func asError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
