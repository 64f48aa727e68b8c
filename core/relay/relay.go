package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/fanout/core/bus"
	"github.com/dmitrymomot/fanout/core/channel"
	"github.com/dmitrymomot/fanout/core/logger"
	"github.com/dmitrymomot/fanout/core/metrics"
	"github.com/dmitrymomot/fanout/core/wsconn"
)

// Relay owns the registry, the local broadcaster and the bus bridge of one
// process, and drives their startup and shutdown.
type Relay struct {
	registry    *channel.Registry
	broadcaster *channel.Broadcaster
	bridge      *bus.Bridge
	upgrader    *wsconn.Upgrader
	metrics     *metrics.Metrics
	logger      *slog.Logger
	accessLog   *slog.Logger

	bridgeStopTimeout time.Duration
	closeConcurrency  int

	closing atomic.Bool

	mu           sync.Mutex
	cancelBridge context.CancelFunc
	bridgeDone   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

type options struct {
	logger            *slog.Logger
	metrics           *metrics.Metrics
	namespace         string
	bridgeOpts        []bus.Option
	upgraderOpts      []wsconn.Option
	bridgeStopTimeout time.Duration
	closeConcurrency  int
}

// Option configures a Relay.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records into m instead of a fresh registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithMetricsNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithBridgeOptions passes options through to the bus bridge.
func WithBridgeOptions(opts ...bus.Option) Option {
	return func(o *options) {
		o.bridgeOpts = append(o.bridgeOpts, opts...)
	}
}

// WithUpgraderOptions passes options through to the websocket upgrader.
func WithUpgraderOptions(opts ...wsconn.Option) Option {
	return func(o *options) {
		o.upgraderOpts = append(o.upgraderOpts, opts...)
	}
}

// WithBridgeStopTimeout bounds how long Shutdown waits for the bridge.
func WithBridgeStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.bridgeStopTimeout = d
		}
	}
}

// WithCloseConcurrency limits how many connections are closed at once
// during shutdown.
func WithCloseConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.closeConcurrency = n
		}
	}
}

// New wires a relay around b. The relay owns b and closes it on Shutdown.
func New(b bus.Bus, opts ...Option) (*Relay, error) {
	o := options{
		logger:            logger.Discard(),
		namespace:         metrics.DefaultNamespace,
		bridgeStopTimeout: DefaultBridgeStopTimeout,
		closeConcurrency:  DefaultCloseConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New(o.namespace)
	}

	registry := channel.NewRegistry()
	broadcaster := channel.NewBroadcaster(registry,
		channel.WithLogger(o.logger.With(logger.Component("broadcaster"))),
		channel.WithMetrics(o.metrics),
	)

	bridgeOpts := append([]bus.Option{
		bus.WithLogger(o.logger),
		bus.WithMetrics(o.metrics),
	}, o.bridgeOpts...)
	bridge, err := bus.NewBridge(b, broadcaster, bridgeOpts...)
	if err != nil {
		return nil, err
	}

	upgraderOpts := append([]wsconn.Option{
		wsconn.WithLogger(o.logger.With(logger.Component("websocket"))),
	}, o.upgraderOpts...)

	o.metrics.ObserveMembership(o.namespace, registry.Stats)

	return &Relay{
		registry:          registry,
		broadcaster:       broadcaster,
		bridge:            bridge,
		upgrader:          wsconn.NewUpgrader(upgraderOpts...),
		metrics:           o.metrics,
		logger:            o.logger.With(logger.Component("relay"), logger.Instance(bridge.InstanceID())),
		accessLog:         o.logger,
		bridgeStopTimeout: o.bridgeStopTimeout,
		closeConcurrency:  o.closeConcurrency,
		bridgeDone:        make(chan struct{}),
	}, nil
}

func (r *Relay) Registry() *channel.Registry { return r.registry }
func (r *Relay) Bridge() *bus.Bridge         { return r.bridge }
func (r *Relay) Metrics() *metrics.Metrics   { return r.metrics }

// Start pings the bus and subscribes the bridge. An error here must abort
// process startup.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.bridge.Start(ctx); err != nil {
		return fmt.Errorf("start bus bridge: %w", err)
	}
	r.logger.InfoContext(ctx, "relay started", logger.Topic(r.bridge.Topics().Pattern()))
	return nil
}

// Run provides errgroup compatibility. The returned function relays bus
// messages until ctx is cancelled, then shuts the relay down. If the bridge
// fails fatally it shuts down as well and returns the bridge error.
func (r *Relay) Run(ctx context.Context) func() error {
	return func() error {
		r.mu.Lock()
		if r.cancelBridge != nil {
			r.mu.Unlock()
			return ErrAlreadyRunning
		}
		if r.closing.Load() {
			r.mu.Unlock()
			return nil
		}
		bridgeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r.cancelBridge = cancel
		r.mu.Unlock()

		bridgeErr := make(chan error, 1)
		go func() {
			defer close(r.bridgeDone)
			bridgeErr <- r.bridge.Run(bridgeCtx)
		}()

		shutdownCtx := context.WithoutCancel(ctx)

		select {
		case <-ctx.Done():
			return r.Shutdown(shutdownCtx)
		case err := <-bridgeErr:
			if err != nil {
				r.logger.ErrorContext(ctx, "bus bridge failed, shutting down", logger.Error(err))
				return errors.Join(err, r.Shutdown(shutdownCtx))
			}
		}

		// The bridge stopped without error: either Shutdown cancelled it or
		// the bus was lost under the degrade policy. Keep serving local
		// members in the latter case.
		if !r.closing.Load() {
			<-ctx.Done()
		}
		return r.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the relay in order. New connections are turned away
// first and the bridge is stopped within the bridge stop timeout. Then every
// live connection gets a 1001 "Server shutdown" close frame, and finally the
// bus is released. Only the first call does the work; later calls return
// its result.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.shutdownErr = r.shutdown(ctx)
	})
	return r.shutdownErr
}

func (r *Relay) shutdown(ctx context.Context) error {
	start := time.Now()
	r.closing.Store(true)
	r.logger.InfoContext(ctx, "relay shutting down")

	r.stopBridge(ctx)
	closed := r.closeAll(ctx)

	if err := r.bridge.Close(); err != nil {
		r.logger.WarnContext(ctx, "release bus", logger.Error(err))
		return fmt.Errorf("release bus: %w", err)
	}

	r.logger.InfoContext(ctx, "relay stopped",
		logger.Count("closed_connections", closed),
		logger.Elapsed(start),
	)
	return nil
}

func (r *Relay) stopBridge(ctx context.Context) {
	r.mu.Lock()
	cancel := r.cancelBridge
	r.mu.Unlock()
	if cancel == nil {
		// Run was never called, so nothing reads from the bus.
		return
	}
	cancel()

	timer := time.NewTimer(r.bridgeStopTimeout)
	defer timer.Stop()

	select {
	case <-r.bridgeDone:
	case <-timer.C:
		r.logger.WarnContext(ctx, "bus bridge did not stop in time", logger.Duration(r.bridgeStopTimeout))
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "shutdown context ended before the bus bridge stopped", logger.Error(ctx.Err()))
	}
}

func (r *Relay) closeAll(ctx context.Context) int {
	conns := r.registry.AllConnections()

	var g errgroup.Group
	g.SetLimit(r.closeConcurrency)
	for _, conn := range conns {
		g.Go(func() error {
			if err := conn.Close(channel.CloseGoingAway, ShutdownCloseReason); err != nil {
				r.logger.DebugContext(ctx, "close connection",
					logger.Channel(conn.Channel()),
					logger.ConnID(conn.ID()),
					logger.Error(err),
				)
			}
			// Shutdown returns after the close frames went out. A writer
			// stuck on a slow peer gives up after its write timeout.
			if rc, ok := conn.(channel.Releaser); ok {
				select {
				case <-rc.Released():
				case <-ctx.Done():
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(conns)
}

// Ready returns nil while the bridge holds the bus and the bus answers a
// ping. It fails as soon as shutdown begins.
func (r *Relay) Ready(ctx context.Context) error {
	if r.closing.Load() {
		return ErrShuttingDown
	}
	return r.bridge.Healthy(ctx)
}

// Closing reports whether Shutdown has begun.
func (r *Relay) Closing() bool { return r.closing.Load() }
