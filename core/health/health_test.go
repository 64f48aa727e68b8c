package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/fanout/core/health"
)

func TestLiveness(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	health.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("bus lost") }

	tests := []struct {
		name   string
		checks []func(context.Context) error
		code   int
		body   string
	}{
		{name: "no_checks", code: http.StatusOK, body: "READY"},
		{name: "all_pass", checks: []func(context.Context) error{ok, ok}, code: http.StatusOK, body: "READY"},
		{name: "one_fails", checks: []func(context.Context) error{ok, failing}, code: http.StatusInternalServerError, body: "NOT READY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			health.Readiness(nil, tt.checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}

	t.Run("stops_at_first_failure", func(t *testing.T) {
		t.Parallel()

		called := false
		after := func(context.Context) error { called = true; return nil }

		rec := httptest.NewRecorder()
		health.Readiness(nil, failing, after).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.False(t, called)
	})
}
