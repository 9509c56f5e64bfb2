// Package apierrors implements the stable error taxonomy used across the
// admin HTTP surface and the background workers: every failure mode the
// credential pool, balance cache, and Cloud Pass client can produce is
// classified into one of five kinds before it crosses a component boundary.
package apierrors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind is the stable taxonomy. Values never change meaning once assigned;
// new kinds are additive, existing ones are never repurposed.
type Kind string

const (
	InvalidInput Kind = "invalid_input"
	NotFound     Kind = "not_found"
	Unauthorized Kind = "unauthorized"
	Upstream     Kind = "upstream"
	Internal     Kind = "internal"
)

var statusByKind = map[Kind]int{
	InvalidInput: http.StatusBadRequest,
	NotFound:     http.StatusNotFound,
	Unauthorized: http.StatusUnauthorized,
	Upstream:     http.StatusBadGateway,
	Internal:     http.StatusInternalServerError,
}

// Error is a classified error carrying its taxonomy kind alongside a
// human-readable message. It implements the standard error interface and
// supports unwrapping so callers can still inspect an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code this kind maps to.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs a classified error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error under kind, preserving it as the cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts a *Error from err if present.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// KindOf returns the taxonomy kind of err, defaulting to Internal for
// unclassified errors — every error that escapes a component boundary must
// eventually be wrapped, but this keeps callers defensive.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// JSON is the wire shape returned to HTTP clients on failure.
type JSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Respond writes the classified error as JSON with its mapped status code.
func Respond(c *gin.Context, err error) {
	e, ok := As(err)
	if !ok {
		e = &Error{Kind: Internal, Message: err.Error()}
	}
	c.JSON(e.Status(), JSON{Error: string(e.Kind), Message: e.Message})
}

// Abort behaves like Respond but also aborts the gin handler chain.
func Abort(c *gin.Context, err error) {
	e, ok := As(err)
	if !ok {
		e = &Error{Kind: Internal, Message: err.Error()}
	}
	c.AbortWithStatusJSON(e.Status(), JSON{Error: string(e.Kind), Message: e.Message})
}
