// Package middleware provides net/http middleware for request identifiers
// and request logging.
//
//	h := middleware.Chain(mux,
//		middleware.RequestID(),
//		middleware.Logging(log),
//	)
//
// Middleware listed first runs first. The response writer wrapper used for
// logging supports hijacking, so websocket upgrades pass through unchanged.
package middleware
