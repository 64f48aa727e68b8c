package channel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/fanout/core/logger"
	"github.com/dmitrymomot/fanout/core/metrics"
)

// Result summarizes one broadcast.
type Result struct {
	Delivered int
	Failed    int
}

// Broadcaster fans a message out to the local members of a channel.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithLogger sets the logger used to report failed sends.
func WithLogger(l *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records delivered and failed sends.
func WithMetrics(m *metrics.Metrics) BroadcasterOption {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast sends text to every member of channel except exclude, which is
// nil for messages that did not originate from a local connection.
//
// A member whose Send fails is closed with CloseTryAgainLater and counted
// in Result.Failed; the remaining members still get the message.
func (b *Broadcaster) Broadcast(ctx context.Context, channel, text string, exclude Conn) Result {
	var res Result

	for _, conn := range b.registry.Snapshot(channel) {
		if conn == exclude {
			continue
		}

		if err := conn.Send(text); err != nil {
			res.Failed++
			b.drop(ctx, channel, conn, err)
			continue
		}
		res.Delivered++
	}

	b.metrics.MessagesDelivered(res.Delivered)
	b.metrics.SendFailures(res.Failed)

	return res
}

// drop closes a member that could not take a message. Close returns without
// waiting on the peer; the member's handler sees the closed stream and
// leaves the channel.
func (b *Broadcaster) drop(ctx context.Context, channel string, conn Conn, err error) {
	level := slog.LevelWarn
	if errors.Is(err, ErrConnClosed) {
		level = slog.LevelDebug
	}
	b.logger.Log(ctx, level, "dropping connection after failed send",
		logger.Channel(channel),
		logger.ConnID(conn.ID()),
		logger.Error(err),
	)

	if cerr := conn.Close(CloseTryAgainLater, "message delivery failed"); cerr != nil {
		b.logger.DebugContext(ctx, "close after failed send",
			logger.Channel(channel),
			logger.ConnID(conn.ID()),
			logger.Error(cerr),
		)
	}
}
