package domain

import (
	"errors"
	"strings"
)

// ErrorKind classifies failures surfaced to operators.
type ErrorKind string

const (
	KindPathNotFound       ErrorKind = "path_not_found"
	KindTransportFailed    ErrorKind = "connection_transport_failed"
	KindLocalAccessDenied  ErrorKind = "connection_local_access_denied"
	KindDriverIncompatible ErrorKind = "connection_driver_incompatible"
	KindWorkerProtocol     ErrorKind = "worker_protocol"
	KindWorkerExecution    ErrorKind = "worker_execution"
	KindExtraction         ErrorKind = "extraction"
	KindSerialization      ErrorKind = "serialization"
	kindConnectionCategory ErrorKind = "connection"
)

// Sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownLayout  = errors.New("unknown layout")
	ErrAlreadyRunning = errors.New("extraction already running")

	// ErrConnection matches every connection subtype with errors.Is.
	ErrConnection = &Error{Kind: kindConnectionCategory}
	// Kind sentinels, matched by kind with errors.Is.
	ErrPathNotFound    = &Error{Kind: KindPathNotFound}
	ErrTransportFailed = &Error{Kind: KindTransportFailed}
	ErrLocalAccess     = &Error{Kind: KindLocalAccessDenied}
	ErrDriverIncompat  = &Error{Kind: KindDriverIncompatible}
	ErrWorkerProtocol  = &Error{Kind: KindWorkerProtocol}
	ErrWorkerExecution = &Error{Kind: KindWorkerExecution}
	ErrExtraction      = &Error{Kind: KindExtraction}
	ErrSerialization   = &Error{Kind: KindSerialization}
)

// Error is a classified failure. Diagnostic holds raw text captured for
// support (worker stderr, legacy driver messages).
type Error struct {
	Kind       ErrorKind
	Message    string
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind. The connection category matches
// any of the connection subtypes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == kindConnectionCategory {
		return e.Kind.IsConnection()
	}
	return t.Kind == e.Kind
}

// IsConnection reports whether the kind is one of the connection subtypes.
func (k ErrorKind) IsConnection() bool {
	switch k {
	case KindTransportFailed, KindLocalAccessDenied, KindDriverIncompatible:
		return true
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DiagnosticOf returns the captured diagnostic text of err, if any.
func DiagnosticOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diagnostic
	}
	return ""
}

// NewError builds a classified error.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ExtractionError wraps a query or normalization failure.
func ExtractionError(msg string, err error) *Error {
	return &Error{Kind: KindExtraction, Message: msg, Err: err}
}

// SerializationError reports a field that cannot be emitted.
func SerializationError(msg string) *Error {
	return &Error{Kind: KindSerialization, Message: msg}
}
