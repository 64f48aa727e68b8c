package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultMemoryBuffer = 256

// MemoryBus is an in-process Bus. It backs single-instance deployments,
// where local broadcast is all that is needed, and lets several relays in
// one process share a bus in tests.
//
// Only exact topics and trailing "*" prefix patterns are supported.
// Delivery is best-effort: a subscriber whose buffer is full misses the
// message.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	failed error
	closed bool
	buffer int
}

// NewMemoryBus creates an in-process bus. buffer is the per-subscription
// queue length; values <= 0 use a default.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.unavailable(); err != nil {
		return err
	}

	for sub := range b.subs {
		if sub.matches(topic) {
			sub.deliver(&Message{Topic: topic, Payload: append([]byte(nil), payload...)})
		}
	}
	return nil
}

func (b *MemoryBus) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.Count(pattern, "*") > 1 || (strings.Contains(pattern, "*") && !strings.HasSuffix(pattern, "*")) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPattern, pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.unavailable(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		bus:     b,
		pattern: pattern,
		msgs:    make(chan *Message, b.buffer),
		done:    make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBus) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.unavailable()
}

// Close ends every subscription and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.finish(ErrBusClosed)
		delete(b.subs, sub)
	}
	return nil
}

// Fail simulates a lost connection: live subscriptions return err from
// Receive, and Publish and Ping fail until Recover is called.
func (b *MemoryBus) Fail(err error) {
	if err == nil {
		err = ErrBusLost
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed = err
	for sub := range b.subs {
		sub.finish(err)
		delete(b.subs, sub)
	}
}

// Recover clears a failure set by Fail. Old subscriptions stay dead.
func (b *MemoryBus) Recover() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = nil
}

// unavailable must be called with mu held.
func (b *MemoryBus) unavailable() error {
	if b.closed {
		return ErrBusClosed
	}
	return b.failed
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

type memorySubscription struct {
	bus     *MemoryBus
	pattern string
	msgs    chan *Message

	once sync.Once
	done chan struct{}
	err  error
}

func (s *memorySubscription) matches(topic string) bool {
	if prefix, ok := strings.CutSuffix(s.pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return topic == s.pattern
}

func (s *memorySubscription) deliver(msg *Message) {
	select {
	case <-s.done:
	case s.msgs <- msg:
	default:
	}
}

func (s *memorySubscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *memorySubscription) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	// Drain queued messages before reporting a closed subscription.
	select {
	case msg := <-s.msgs:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-s.done:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *memorySubscription) Close() error {
	s.bus.remove(s)
	s.finish(ErrSubscriptionClosed)
	return nil
}
