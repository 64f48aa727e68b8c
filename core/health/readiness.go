package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/fanout/core/logger"
)

// Readiness verifies all dependency checks succeed.
// Returns "READY" if they do, 500 Internal Server Error on the first failure.
func Readiness(log *slog.Logger, checks ...func(context.Context) error) http.Handler {
	if log == nil {
		log = logger.Discard()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "Readiness check failed", logger.Error(err))
				writeText(w, http.StatusInternalServerError, "NOT READY")
				return
			}
		}

		writeText(w, http.StatusOK, "READY")
	})
}
