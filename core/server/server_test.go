package server_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fanout/core/server"
)

func hello(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "hello")
}

func waitListening(t *testing.T, srv *server.Server) string {
	t.Helper()

	var addr string
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != "127.0.0.1:0"
	}, time.Second, 5*time.Millisecond)
	return "http://" + addr
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	srv := server.New("127.0.0.1:0", server.WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, http.HandlerFunc(hello))() }()

	base := waitListening(t, srv)

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "hello", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = http.Get(base + "/")
	assert.Error(t, err)
}

func TestServer_Start(t *testing.T) {
	t.Parallel()

	t.Run("already_running", func(t *testing.T) {
		t.Parallel()

		srv := server.New("127.0.0.1:0")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() { _ = srv.Start(ctx, http.HandlerFunc(hello)) }()
		waitListening(t, srv)
		defer srv.Stop()

		assert.ErrorIs(t, srv.Start(ctx, http.HandlerFunc(hello)), server.ErrServerAlreadyRunning)
	})

	t.Run("address_in_use", func(t *testing.T) {
		t.Parallel()

		first := server.New("127.0.0.1:0")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() { _ = first.Start(ctx, http.HandlerFunc(hello)) }()
		waitListening(t, first)
		defer first.Stop()

		second := server.New(first.Addr())
		assert.Error(t, second.Run(ctx, http.HandlerFunc(hello))())
	})

	t.Run("stop_when_not_running", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, server.New(":0").Stop())
	})
}
