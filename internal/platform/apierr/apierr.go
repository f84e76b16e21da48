// Package apierr is the mux's error taxonomy, generalized from the
// teacher's pkg/error.GenericError (Error()/ErrCode()/StatusCode()) into
// the full set of kinds §7 of the spec requires.
package apierr

import "net/http"

// GenericError is implemented by every typed error the HTTP layer knows how
// to render without falling back to a bare 500.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}

type taggedError struct {
	msg    string
	code   string
	status int
}

func (e taggedError) Error() string    { return e.msg }
func (e taggedError) ErrCode() string  { return e.code }
func (e taggedError) StatusCode() int  { return e.status }

// Validation is a 400: the caller sent something malformed.
func Validation(msg string) error {
	return taggedError{msg: msg, code: "VALIDATION_ERROR", status: http.StatusBadRequest}
}

// Unauthorized is a 401: missing/invalid bearer token.
func Unauthorized(msg string) error {
	return taggedError{msg: msg, code: "UNAUTHORIZED", status: http.StatusUnauthorized}
}

// RouteNotBound is a 403 with the machine code ROUTE_NOT_BOUND (§4.6/§7).
func RouteNotBound() error {
	return taggedError{msg: "no active binding for this route", code: "ROUTE_NOT_BOUND", status: http.StatusForbidden}
}

// Forbidden is a generic 403 (e.g. Discord channel outside bound guild).
func Forbidden(msg string) error {
	return taggedError{msg: msg, code: "FORBIDDEN", status: http.StatusForbidden}
}

// NotFound is a 404: missing/expired code, missing binding, disabled endpoint.
func NotFound(msg string) error {
	return taggedError{msg: msg, code: "NOT_FOUND", status: http.StatusNotFound}
}

// Conflict is a 409: pairing already claimed, idempotency mismatch, Discord
// route already bound.
func Conflict(msg string) error {
	return taggedError{msg: msg, code: "CONFLICT", status: http.StatusConflict}
}

// Upstream is a 502 carrying provider-supplied details.
func Upstream(msg string, details any) error {
	return upstreamError{taggedError{msg: msg, code: "UPSTREAM_ERROR", status: http.StatusBadGateway}, details}
}

type upstreamError struct {
	taggedError
	Details any
}

// AsUpstream extracts the Details payload, if err is an Upstream error.
func AsUpstream(err error) (any, bool) {
	if ue, ok := err.(upstreamError); ok {
		return ue.Details, true
	}
	return nil, false
}

// Internal is a 500: unexpected failure. Never includes a stack trace.
func Internal(msg string) error {
	return taggedError{msg: msg, code: "INTERNAL_ERROR", status: http.StatusInternalServerError}
}

// StatusAndCode extracts the HTTP status + machine code for any error,
// defaulting to 500/INTERNAL_ERROR for untyped errors.
func StatusAndCode(err error) (int, string) {
	if ge, ok := err.(GenericError); ok {
		return ge.StatusCode(), ge.ErrCode()
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
