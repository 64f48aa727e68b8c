// Package health provides HTTP handlers for service health monitoring.
//
// Handlers:
//   - Liveness: process is running (no dependency checks)
//   - Readiness: all dependency checks pass
//
// Usage:
//
//	mux.HandleFunc("GET /healthz", health.Liveness)
//	mux.Handle("GET /readiness", health.Readiness(logger, relay.Ready))
//
// Dependency checks must follow func(context.Context) error signature.
package health
