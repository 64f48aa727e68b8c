package channel_test

import (
	"sync"

	"github.com/dmitrymomot/fanout/core/channel"
)

// mockConn records what the relay sends to it. sendErr, when set, is
// returned by every Send.
type mockConn struct {
	id      string
	channel string
	sendErr error

	mu        sync.Mutex
	received  []string
	closed    bool
	closeCode int
}

func newMockConn(id, ch string) *mockConn {
	return &mockConn{id: id, channel: ch}
}

func (c *mockConn) ID() string      { return c.id }
func (c *mockConn) Channel() string { return c.channel }

func (c *mockConn) Send(text string) error {
	if c.sendErr != nil {
		return c.sendErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channel.ErrConnClosed
	}
	c.received = append(c.received, text)
	return nil
}

func (c *mockConn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
	return nil
}

func (c *mockConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.received...)
}

func (c *mockConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}
