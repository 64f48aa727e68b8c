package wsconn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/fanout/core/channel"
	"github.com/dmitrymomot/fanout/core/logger"
)

// Conn is a channel member backed by a gorilla websocket.
//
// Outbound messages go through a bounded FIFO queue drained by a single
// writer goroutine, so messages reach the peer in the order they were
// queued and Send never waits on the network. A full queue means the peer
// is too slow and Send fails.
type Conn struct {
	id      string
	channel string
	ws      *websocket.Conn
	cfg     config
	logger  *slog.Logger

	send chan string
	done chan struct{}

	// closeMsg is set once, before done is closed.
	closeOnce sync.Once
	closeMsg  []byte

	// released is closed by the writer after the socket is closed.
	released chan struct{}
}

// ErrInvalidUTF8 is returned by ReadLoop for a text frame that is not valid
// UTF-8.
var ErrInvalidUTF8 = errors.New("wsconn: text frame is not valid UTF-8")

var (
	_ channel.Conn     = (*Conn)(nil)
	_ channel.Releaser = (*Conn)(nil)
)

func newConn(ws *websocket.Conn, channelName string, cfg config) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		channel:  channelName,
		ws:       ws,
		cfg:      cfg,
		send:     make(chan string, cfg.sendQueueSize),
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	c.logger = cfg.logger.With(logger.Channel(channelName), logger.ConnID(c.id))

	ws.SetReadLimit(cfg.maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.pongWait))
	})

	go c.writePump()

	return c
}

func (c *Conn) ID() string      { return c.id }
func (c *Conn) Channel() string { return c.channel }

// Send queues text for delivery.
func (c *Conn) Send(text string) error {
	select {
	case <-c.done:
		return channel.ErrConnClosed
	default:
	}

	select {
	case <-c.done:
		return channel.ErrConnClosed
	case c.send <- text:
		return nil
	default:
		return channel.ErrSendQueueFull
	}
}

// Close marks the connection closed and hands the close frame with code
// and reason to the writer goroutine, which then closes the socket. It does
// not wait for the peer: a writer stuck on a slow peer finishes within the
// write timeout, after which Released is closed. Messages still in the
// queue are discarded. Only the first call has an effect.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.done)
	})
	return nil
}

// Released is closed once the close frame was written or abandoned and the
// socket is closed.
func (c *Conn) Released() <-chan struct{} { return c.released }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// ReadLoop blocks reading frames and calls onText for every text message,
// in arrival order. Binary frames are ignored. A text frame that is not
// valid UTF-8 ends the connection with CloseInvalidPayload, so every peer,
// local or behind the bus, sees the same bytes. It returns nil when the peer
// closes normally or the connection is closed locally, and the read error
// otherwise. The connection is closed when ReadLoop returns.
func (c *Conn) ReadLoop(ctx context.Context, onText func(context.Context, string)) error {
	defer func() {
		_ = c.Close(channel.CloseNormal, "")
		<-c.released
	}()

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return c.readErr(err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		if !utf8.Valid(data) {
			_ = c.Close(channel.CloseInvalidPayload, "invalid UTF-8")
			return ErrInvalidUTF8
		}
		onText(ctx, string(data))
	}
}

func (c *Conn) readErr(err error) error {
	if c.closed() {
		// Closed by us: shutdown, failed send or write error.
		return nil
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	return err
}

func (c *Conn) writePump() {
	defer close(c.released)
	defer c.ws.Close()

	ticker := time.NewTicker(c.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.writeClose()
			return
		case text := <-c.send:
			if c.closed() {
				c.writeClose()
				return
			}
			if err := c.write(websocket.TextMessage, []byte(text)); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) writeClose() {
	err := c.ws.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(c.cfg.writeTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("write close frame", logger.Error(err))
	}
}

// fail ends the connection after a write error. No close frame is sent on
// a broken stream; the socket is closed when the writer returns, which
// ends the read loop.
func (c *Conn) fail(err error) {
	if c.closed() {
		return
	}
	c.logger.Debug("websocket write failed", logger.Error(err))
	_ = c.Close(websocket.CloseAbnormalClosure, "")
}
