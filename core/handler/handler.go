package handler

import "net/http"

// Response renders an HTTP response. A returned error is passed to the
// router's error handler, which skips writing when the response has already
// started or the connection was hijacked.
type Response func(w http.ResponseWriter, r *http.Request) error

// HandlerFunc is an HTTP handler with a typed request context.
type HandlerFunc[C Context] func(ctx C) Response

// ErrorHandler handles errors returned while processing a request.
type ErrorHandler[C Context] func(ctx C, err error)

// Middleware wraps handlers to add cross-cutting behavior.
type Middleware[C Context] func(next HandlerFunc[C]) HandlerFunc[C]
