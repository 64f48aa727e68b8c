package bus

import (
	"context"
	"time"
)

// Message is a payload received from the bus.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a live pattern subscription.
type Subscription interface {
	// Receive waits at most timeout for the next message. It returns
	// (nil, nil) when nothing arrived in time. Any other error means the
	// subscription is no longer usable.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)

	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// Bus is a topic-based publish/subscribe service.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// PSubscribe subscribes to every topic matching a glob pattern and
	// returns once the subscription is confirmed.
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}
