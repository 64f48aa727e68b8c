package channel

// Close codes sent to a remote peer when the relay ends a connection.
// Values follow RFC 6455 so websocket transports can pass them through.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseInvalidPayload = 1007
	CloseTryAgainLater  = 1013
)

// Conn is one client session bound to exactly one channel.
//
// Implementations must be safe for concurrent use. Neither Send nor Close
// may wait on the remote peer: a slow peer is reported as a Send error, and
// Close only starts the shutdown of the transport. Close must be idempotent.
type Conn interface {
	// ID returns an identifier that is unique per session.
	ID() string

	// Channel returns the channel name the connection joined.
	Channel() string

	// Send queues a text message for delivery to the remote peer.
	Send(text string) error

	// Close terminates the connection, sending code and reason to the
	// peer when the transport supports it.
	Close(code int, reason string) error
}

// Releaser is implemented by connections whose transport is released after
// Close returns. Released is closed once that has happened.
type Releaser interface {
	Released() <-chan struct{}
}
