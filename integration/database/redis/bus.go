package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/fanout/core/bus"
)

const DefaultSubscribeTimeout = 5 * time.Second

// Bus implements bus.Bus on Redis pub/sub.
type Bus struct {
	client           redis.UniversalClient
	subscribeTimeout time.Duration
}

var _ bus.Bus = (*Bus)(nil)

// BusOption configures a Bus.
type BusOption func(*Bus)

func WithSubscribeTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.subscribeTimeout = d
		}
	}
}

// NewBus wraps client. The bus owns the client from now on.
func NewBus(client redis.UniversalClient, opts ...BusOption) *Bus {
	b := &Bus{
		client:           client,
		subscribeTimeout: DefaultSubscribeTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewBusFromConfig connects to Redis and wraps the client.
func NewBusFromConfig(ctx context.Context, cfg Config) (*Bus, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewBus(client, WithSubscribeTimeout(cfg.SubscribeTimeout)), nil
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// PSubscribe subscribes to pattern and waits for the server's confirmation.
func (b *Bus) PSubscribe(ctx context.Context, pattern string) (bus.Subscription, error) {
	ps := b.client.PSubscribe(ctx, pattern)

	reply, err := ps.ReceiveTimeout(ctx, b.subscribeTimeout)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	if _, ok := reply.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedReply, reply)
	}

	return &subscription{ps: ps}, nil
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bus) Close() error {
	return b.client.Close()
}

type subscription struct {
	ps *redis.PubSub
}

func (s *subscription) Receive(ctx context.Context, timeout time.Duration) (*bus.Message, error) {
	reply, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}

	// Subscription confirmations and pongs carry nothing to relay.
	msg, ok := reply.(*redis.Message)
	if !ok {
		return nil, nil
	}
	return &bus.Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}, nil
}

func (s *subscription) Close() error {
	return s.ps.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
