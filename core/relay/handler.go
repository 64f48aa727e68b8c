package relay

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrymomot/fanout/core/channel"
	"github.com/dmitrymomot/fanout/core/handler"
	"github.com/dmitrymomot/fanout/core/health"
	"github.com/dmitrymomot/fanout/core/logger"
	"github.com/dmitrymomot/fanout/core/middleware"
	"github.com/dmitrymomot/fanout/core/response"
	"github.com/dmitrymomot/fanout/core/router"
	"github.com/dmitrymomot/fanout/core/wsconn"
)

// Handler returns the relay routes. The channel list and the health checks are
// served both at the root and under /ws.
func (r *Relay) Handler() http.Handler {
	mux := router.New[*router.Context](
		router.WithErrorHandler(response.ErrorHandler[*router.Context]),
		router.WithLogger[*router.Context](r.logger),
	)

	liveness := wrap(http.HandlerFunc(health.Liveness))
	readiness := wrap(health.Readiness(r.logger, r.Ready))
	for _, prefix := range []string{"", "/ws"} {
		mux.Get(prefix+"/list", r.listChannels)
		mux.Get(prefix+"/healthz", liveness)
		mux.Get(prefix+"/readiness", readiness)
	}

	mux.Get("/ws/{channel}", r.joinChannel)
	mux.Get("/ws/channel/{channel}", r.joinChannel)
	mux.Get("/metrics", wrap(r.metrics.Handler()))

	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.LoggingWithConfig(r.accessLog, middleware.LoggingConfig{
			Skip: isHealthCheck,
		}),
	)
}

func wrap(h http.Handler) handler.HandlerFunc[*router.Context] {
	return func(*router.Context) handler.Response {
		return response.Handler(h)
	}
}

// isHealthCheck matches health checks and metrics scrapes.
func isHealthCheck(req *http.Request) bool {
	switch strings.TrimPrefix(req.URL.Path, "/ws") {
	case "/healthz", "/readiness", "/metrics":
		return true
	}
	return false
}

func (r *Relay) listChannels(*router.Context) handler.Response {
	return response.JSON(r.registry.ListChannels())
}

// joinChannel upgrades the request and relays the client's text messages
// until it disconnects. The channel name is the decoded path segment.
func (r *Relay) joinChannel(ctx *router.Context) handler.Response {
	name := ctx.Param("channel")

	return func(w http.ResponseWriter, req *http.Request) error {
		conn, err := r.upgrader.Upgrade(w, req, name)
		if err != nil {
			// The upgrader has already replied.
			r.logger.DebugContext(req.Context(), "websocket upgrade failed",
				logger.Channel(name),
				logger.Error(err),
			)
			return nil
		}

		if r.closing.Load() {
			_ = conn.Close(channel.CloseGoingAway, ShutdownCloseReason)
			return nil
		}

		r.registry.Join(name, conn)
		defer r.registry.Leave(name, conn)

		// Shutdown may have snapshotted the registry before the join above.
		if r.closing.Load() {
			_ = conn.Close(channel.CloseGoingAway, ShutdownCloseReason)
			return nil
		}

		requestID, _ := middleware.GetRequestID(req.Context())
		log := r.logger.With(logger.Channel(name), logger.ConnID(conn.ID()), logger.RequestID(requestID))
		log.DebugContext(req.Context(), "client joined")

		err = conn.ReadLoop(req.Context(), func(ctx context.Context, text string) {
			r.receive(ctx, conn, text)
		})
		if err != nil {
			log.DebugContext(req.Context(), "client read failed", logger.Error(err))
		}
		log.DebugContext(req.Context(), "client left")
		return nil
	}
}

// receive delivers a client's message to the other local members first and
// then publishes it for other instances.
func (r *Relay) receive(ctx context.Context, from *wsconn.Conn, text string) {
	r.metrics.MessageReceived()
	r.broadcaster.Broadcast(ctx, from.Channel(), text, from)

	if err := r.bridge.Publish(ctx, from.Channel(), text); err != nil {
		r.logger.WarnContext(ctx, "publish to bus",
			logger.Channel(from.Channel()),
			logger.ConnID(from.ID()),
			logger.Error(err),
		)
	}
}
