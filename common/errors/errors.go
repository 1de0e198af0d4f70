package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an error for callers on the other side of the bus.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindUpstream   Kind = "UPSTREAM"
	KindTimeout    Kind = "UPSTREAM_TIMEOUT"
	KindDefect     Kind = "DEFECT"
	KindInternal   Kind = "INTERNAL"
)

// Error represents an application error
type Error struct {
	Kind     Kind              `json:"kind"`
	Message  string            `json:"message"`
	Status   int               `json:"status"`
	Details  map[string]string `json:"details,omitempty"`
	Upstream json.RawMessage   `json:"upstream,omitempty"`
	Err      error             `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

func New(kind Kind, status int, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Validation reports malformed input with per-field detail.
func Validation(message string, details map[string]string) *Error {
	e := New(KindValidation, http.StatusBadRequest, message, nil)
	e.Details = details
	return e
}

func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, message, nil)
}

func Upstream(message string, err error) *Error {
	return New(KindUpstream, http.StatusBadGateway, message, err)
}

func Timeout(message string, err error) *Error {
	return New(KindTimeout, http.StatusGatewayTimeout, message, err)
}

func Defect(message string) *Error {
	return New(KindDefect, http.StatusInternalServerError, message, nil)
}

func Internal(message string, err error) *Error {
	return New(KindInternal, http.StatusInternalServerError, message, err)
}

// From returns err as an *Error. Errors without a kind become INTERNAL and
// keep their text out of the message.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal server error", err)
}

// KindOf returns the kind of err, or an empty kind when err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

// ErrorMiddleware renders the last error attached to the gin context.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := From(c.Errors.Last().Err)
			c.JSON(appErr.Status, appErr)
			c.Abort()
		}
	}
}
