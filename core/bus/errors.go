package bus

import "errors"

var (
	ErrNilBus             = errors.New("bus is required")
	ErrNilBroadcaster     = errors.New("broadcaster is required")
	ErrBusLost            = errors.New("bus connection lost")
	ErrBusClosed          = errors.New("bus is closed")
	ErrSubscriptionClosed = errors.New("subscription is closed")
	ErrAlreadyStarted     = errors.New("bridge already started")
	ErrNotStarted         = errors.New("bridge not started")
	ErrMalformedTopic     = errors.New("malformed topic")
	ErrUnsupportedPattern = errors.New("unsupported subscription pattern")
)
