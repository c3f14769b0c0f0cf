// Package queryerr defines the closed set of error kinds the query engine
// surfaces to callers. Every error that crosses a component boundary is one
// of these kinds so that the coordinator can dispatch on it with errors.As
// instead of string matching.
package queryerr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code, propagated verbatim from a worker
// response so the caller sees the worker's code rather than a rewrap.
type Code string

const (
	CodeInvalidParams       Code = "invalid_params"
	CodeSearchTimeout       Code = "search_timeout"
	CodeSearchCancelQuery   Code = "search_cancel_query"
	CodeServerInternalError Code = "server_internal_error"
)

// Error is the error type returned across the engine. Message is always
// human-readable; Code is machine-readable and round-trips through RPC
// responses so a coordinator can propagate a worker's code unchanged.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvalidParams reports malformed PromQL, a bad time range, or an
// unsupported matcher combination.
func InvalidParams(format string, args ...any) error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// SearchTimeout reports that the coordinator's deadline elapsed before the
// query finished.
func SearchTimeout(format string, args ...any) error {
	return &Error{Code: CodeSearchTimeout, Message: fmt.Sprintf(format, args...)}
}

// SearchCancelQuery reports that an external cancel(trace_id) call fired.
func SearchCancelQuery(format string, args ...any) error {
	return &Error{Code: CodeSearchCancelQuery, Message: fmt.Sprintf(format, args...)}
}

// ServerInternalError reports an engine-side failure: no queriers
// available, workgroup admission timeout, or a merge failure caused by a
// worker/coordinator version mismatch.
func ServerInternalError(format string, args ...any) error {
	return &Error{Code: CodeServerInternalError, Message: fmt.Sprintf(format, args...)}
}

// FromCode reconstructs an Error carrying a worker's own code, used when a
// per-worker RPC response needs to be propagated unchanged rather than
// wrapped.
func FromCode(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error, and
// reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
