package query

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the engine.
type Kind string

const (
	KindInvalidPath        Kind = "invalid_path"
	KindInvalidFilter      Kind = "invalid_filter"
	KindConflictingFilter  Kind = "conflicting_filter"
	KindPageOutOfRange     Kind = "page_out_of_range"
	KindInvalidPageSize    Kind = "invalid_page_size"
	KindQueryTimeout       Kind = "query_timeout"
	KindNotFound           Kind = "not_found"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindInvalidDocument    Kind = "invalid_document"
	KindTooGeneric         Kind = "too_generic"
)

// Error is the typed error returned by resolution, paging and execution.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.Cause = cause
	return &clone
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
