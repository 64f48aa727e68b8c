package response

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/fanout/core/handler"
)

// Error returns a response that hands err to the router's error handler.
func Error(err error) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		return err
	}
}

// HTTPError is an error with a status code and a machine-readable code.
type HTTPError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

func (e HTTPError) Error() string   { return e.Message }
func (e HTTPError) StatusCode() int { return e.Status }

// WithError returns a copy of e carrying err as its cause.
func (e HTTPError) WithError(err error) HTTPError {
	if err != nil {
		e.Cause = err.Error()
	}
	return e
}

var (
	ErrNotFound = HTTPError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: http.StatusText(http.StatusNotFound),
	}
	ErrMethodNotAllowed = HTTPError{
		Status:  http.StatusMethodNotAllowed,
		Code:    "method_not_allowed",
		Message: http.StatusText(http.StatusMethodNotAllowed),
	}
	ErrServiceUnavailable = HTTPError{
		Status:  http.StatusServiceUnavailable,
		Code:    "service_unavailable",
		Message: http.StatusText(http.StatusServiceUnavailable),
	}
	ErrInternalServerError = HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_server_error",
		Message: http.StatusText(http.StatusInternalServerError),
	}
)

var errorsByStatus = map[int]HTTPError{
	http.StatusNotFound:            ErrNotFound,
	http.StatusMethodNotAllowed:    ErrMethodNotAllowed,
	http.StatusServiceUnavailable:  ErrServiceUnavailable,
	http.StatusInternalServerError: ErrInternalServerError,
}

// statusCode is implemented by errors that carry their own HTTP status.
type statusCode interface {
	StatusCode() int
}

func toHTTPError(err error) HTTPError {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	status := http.StatusInternalServerError
	var sc statusCode
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}

	base, ok := errorsByStatus[status]
	if !ok {
		base = HTTPError{Status: status, Code: "error", Message: http.StatusText(status)}
	}
	return base.WithError(err)
}

// ErrorHandler writes errors as plain text. The status comes from an
// HTTPError or any error with a StatusCode method, and defaults to 500.
func ErrorHandler[C handler.Context](ctx C, err error) {
	httpErr := toHTTPError(err)
	Render(ctx, StringWithStatus(httpErr.Message, httpErr.Status))
}

// JSONErrorHandler writes errors as JSON objects.
func JSONErrorHandler[C handler.Context](ctx C, err error) {
	httpErr := toHTTPError(err)
	Render(ctx, JSONWithStatus(httpErr, httpErr.Status))
}
