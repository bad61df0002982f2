package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/db"
)

// Kind classifies an error for the HTTP boundary.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUpstream     Kind = "upstream"
)

// Machine-readable codes carried in error bodies.
const (
	CodeInvalidInput       = "invalid_input"
	CodeSlotUnavailable    = "slot_unavailable"
	CodeDuplicate          = "duplicate"
	CodeConcurrentUpdate   = "concurrent_update"
	CodeStorageUnavailable = "storage_unavailable"
	CodeStorageTimeout     = "storage_timeout"
)

// Error is the only error type domain services return to handlers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Body is the JSON shape of every error response.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidInput, Field: field, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: "forbidden", Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: "unauthorized", Message: message}
}

// Upstream wraps a storage or identity-provider failure. Deadline errors get
// the storage_timeout code so callers can tell them apart from outages.
func Upstream(message string, err error) *Error {
	code := CodeStorageUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		code = CodeStorageTimeout
		message = message + ": timed out"
	}
	return &Error{Kind: KindUpstream, Code: code, Message: message, Err: err}
}

// FromStorage maps a raw repository error to the taxonomy. what names the
// entity involved, e.g. "appointment".
func FromStorage(err error, what string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case db.IsNoRows(err):
		return NotFound(what + " not found")
	case db.IsUniqueViolation(err, ""):
		return Conflict(CodeDuplicate, what+" already exists")
	case db.IsForeignKeyViolation(err):
		return NotFound("referenced record for " + what + " not found")
	case db.IsCheckViolation(err):
		return Validation("", what+" violates a data constraint")
	}
	return Upstream("storage error while accessing "+what, err)
}

// KindOf returns the kind of err, or KindUpstream for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUpstream
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts any service error into an echo HTTP error. Upstream details
// stay in the wrapped error and never reach the response body.
func ToHTTP(err error) *echo.HTTPError {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = Upstream("internal error", err)
	}
	he := echo.NewHTTPError(HTTPStatus(ae.Kind), Body{Error: ae.Message, Code: ae.Code, Field: ae.Field})
	he.Internal = err
	return he
}

// ErrorHandler renders every error as a Body. It replaces echo's default
// handler so plain echo.HTTPError values share the same shape.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var ae *Error
		if errors.As(err, &ae) {
			err = ToHTTP(ae)
		}

		status := http.StatusInternalServerError
		body := Body{Error: "internal server error"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch m := he.Message.(type) {
			case Body:
				body = m
			case string:
				body = Body{Error: m}
			default:
				body = Body{Error: http.StatusText(status)}
			}
			if he.Internal != nil && status >= http.StatusInternalServerError {
				logger.Error().Err(he.Internal).Str("path", c.Request().URL.Path).Msg("request failed")
			}
		} else {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}
