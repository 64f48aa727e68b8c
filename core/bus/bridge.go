package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fanout/core/channel"
	"github.com/dmitrymomot/fanout/core/logger"
	"github.com/dmitrymomot/fanout/core/metrics"
)

// DefaultPollInterval bounds a single wait for the next bus message, and
// therefore how long cancellation may go unnoticed.
const DefaultPollInterval = time.Second

// Broadcaster delivers a message to the local members of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, text string, exclude channel.Conn) channel.Result
}

// State of the bridge task.
type State int32

const (
	StateStarting State = iota
	StateSubscribed
	StateRelaying
	StateCancelled
	StateBusLost
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateSubscribed:
		return "subscribed"
	case StateRelaying:
		return "relaying"
	case StateCancelled:
		return "cancelled"
	case StateBusLost:
		return "bus_lost"
	default:
		return "unknown"
	}
}

// LossPolicy decides what a lost bus connection does to the process.
type LossPolicy string

const (
	// LossPolicyExit makes Run return ErrBusLost so the process exits and
	// is restarted by its supervisor.
	LossPolicyExit LossPolicy = "exit"

	// LossPolicyDegrade keeps serving local-only traffic. Readiness keeps
	// failing until the process is restarted.
	LossPolicyDegrade LossPolicy = "degrade"
)

// ParseLossPolicy accepts "exit" and "degrade"; empty means exit.
func ParseLossPolicy(s string) (LossPolicy, error) {
	switch LossPolicy(s) {
	case "", LossPolicyExit:
		return LossPolicyExit, nil
	case LossPolicyDegrade:
		return LossPolicyDegrade, nil
	default:
		return "", fmt.Errorf("unknown bus loss policy %q", s)
	}
}

// Bridge connects the local broadcaster to the bus. It is the only owner
// of the bus handle and its pattern subscription: it publishes locally
// received messages and relays bus messages to local members.
//
// Lifecycle: Start, then Run in its own goroutine, then Close once Run has
// returned (or the shutdown bound has elapsed).
type Bridge struct {
	bus          Bus
	broadcaster  Broadcaster
	topics       Topics
	instanceID   string
	pollInterval time.Duration
	policy       LossPolicy
	logger       *slog.Logger
	metrics      *metrics.Metrics

	state   atomic.Int32
	lostErr atomic.Pointer[error]

	mu        sync.Mutex
	sub       Subscription
	subOnce   sync.Once
	subErr    error
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTopicPrefix sets the namespace prepended to channel names.
func WithTopicPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.topics = NewTopics(prefix)
	}
}

// WithInstanceID overrides the generated instance identifier.
func WithInstanceID(id string) Option {
	return func(b *Bridge) {
		if id != "" {
			b.instanceID = id
		}
	}
}

// WithPollInterval sets the bounded wait of each receive.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithLossPolicy sets the reaction to a lost bus.
func WithLossPolicy(p LossPolicy) Option {
	return func(b *Bridge) {
		if p != "" {
			b.policy = p
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records bus traffic.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// NewBridge creates a bridge in the Starting state.
func NewBridge(bus Bus, broadcaster Broadcaster, opts ...Option) (*Bridge, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	if broadcaster == nil {
		return nil, ErrNilBroadcaster
	}

	b := &Bridge{
		bus:          bus,
		broadcaster:  broadcaster,
		topics:       NewTopics(DefaultTopicPrefix),
		instanceID:   uuid.NewString(),
		pollInterval: DefaultPollInterval,
		policy:       LossPolicyExit,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.logger = b.logger.With(logger.Component("bridge"), logger.Instance(b.instanceID))
	return b, nil
}

// InstanceID identifies this process on the bus.
func (b *Bridge) InstanceID() string { return b.instanceID }

// Topics returns the topic mapping in use.
func (b *Bridge) Topics() Topics { return b.topics }

// State returns the current lifecycle state.
func (b *Bridge) State() State { return State(b.state.Load()) }

// Err returns the cause of the bus loss, or nil.
func (b *Bridge) Err() error {
	if p := b.lostErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Start verifies the bus answers a ping and subscribes to every channel
// topic. Any failure here must abort process startup.
func (b *Bridge) Start(ctx context.Context) error {
	if b.State() != StateStarting {
		return ErrAlreadyStarted
	}

	if err := b.bus.Ping(ctx); err != nil {
		return fmt.Errorf("ping bus: %w", err)
	}

	sub, err := b.bus.PSubscribe(ctx, b.topics.Pattern())
	if err != nil {
		return fmt.Errorf("subscribe to %q: %w", b.topics.Pattern(), err)
	}

	b.mu.Lock()
	if b.sub != nil {
		b.mu.Unlock()
		_ = sub.Close()
		return ErrAlreadyStarted
	}
	b.sub = sub
	b.mu.Unlock()

	b.state.Store(int32(StateSubscribed))
	b.logger.InfoContext(ctx, "subscribed to bus", logger.Topic(b.topics.Pattern()))
	return nil
}

// Run relays bus messages to local members until ctx is cancelled or the
// bus is lost. Cancellation is observed within one poll interval and
// returns nil. A lost bus returns an error wrapping ErrBusLost under
// LossPolicyExit, and nil under LossPolicyDegrade.
//
// Run releases the subscription before returning.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	sub := b.sub
	b.mu.Unlock()
	if sub == nil {
		return ErrNotStarted
	}
	defer b.release()

	b.state.Store(int32(StateRelaying))
	b.logger.InfoContext(ctx, "bridge relaying", logger.Duration(b.pollInterval))

	for {
		if ctx.Err() != nil {
			return b.cancelled(ctx)
		}

		msg, err := sub.Receive(ctx, b.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return b.cancelled(ctx)
			}
			return b.lost(ctx, err)
		}
		if msg == nil {
			continue
		}

		b.relay(ctx, msg)
	}
}

// Publish sends a locally received message to the other instances.
func (b *Bridge) Publish(ctx context.Context, channel, text string) error {
	if b.State() == StateBusLost {
		return fmt.Errorf("%w: %w", ErrBusLost, b.Err())
	}

	topic := b.topics.For(channel)
	payload, err := EncodeEnvelope(b.instanceID, text)
	if err != nil {
		return fmt.Errorf("encode message for %q: %w", topic, err)
	}

	if err := b.bus.Publish(ctx, topic, payload); err != nil {
		b.metrics.BusPublishError()
		return fmt.Errorf("publish to %q: %w", topic, err)
	}

	b.metrics.BusPublished()
	return nil
}

// Healthy reports whether cross-instance delivery works: the bridge has not
// lost the bus and the bus answers a ping.
func (b *Bridge) Healthy(ctx context.Context) error {
	if b.State() == StateBusLost {
		return fmt.Errorf("%w: %w", ErrBusLost, b.Err())
	}
	return b.bus.Ping(ctx)
}

// Close releases the subscription and the bus connection. Safe to call
// more than once; only the first call does the work.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = errors.Join(b.release(), b.bus.Close())
	})
	return b.closeErr
}

func (b *Bridge) relay(ctx context.Context, msg *Message) {
	b.metrics.BusReceived()

	name, err := b.topics.Channel(msg.Topic)
	if err != nil {
		b.metrics.BusDropped(metrics.DropMalformed)
		b.logger.WarnContext(ctx, "dropping bus message",
			logger.Topic(msg.Topic),
			logger.Error(err),
		)
		return
	}

	env := DecodeEnvelope(msg.Payload)
	if env.Origin == b.instanceID {
		// Already delivered locally when it was received.
		b.metrics.BusDropped(metrics.DropOwnOrigin)
		return
	}

	res := b.broadcaster.Broadcast(ctx, name, env.Data, nil)
	b.logger.DebugContext(ctx, "relayed bus message",
		logger.Channel(name),
		logger.Count("delivered", res.Delivered),
		logger.Count("failed", res.Failed),
	)
}

func (b *Bridge) cancelled(ctx context.Context) error {
	b.state.Store(int32(StateCancelled))
	b.logger.InfoContext(context.WithoutCancel(ctx), "bridge stopped")
	return nil
}

func (b *Bridge) lost(ctx context.Context, cause error) error {
	b.lostErr.Store(&cause)
	b.state.Store(int32(StateBusLost))

	if b.policy == LossPolicyDegrade {
		b.logger.ErrorContext(ctx, "bus connection lost, serving local members only",
			logger.Error(cause),
		)
		return nil
	}

	b.logger.ErrorContext(ctx, "bus connection lost", logger.Error(cause))
	return fmt.Errorf("%w: %w", ErrBusLost, cause)
}

func (b *Bridge) release() error {
	b.subOnce.Do(func() {
		b.mu.Lock()
		sub := b.sub
		b.mu.Unlock()
		if sub != nil {
			b.subErr = sub.Close()
		}
	})
	return b.subErr
}
