package channel

import "errors"

var (
	ErrConnClosed    = errors.New("connection is closed")
	ErrSendQueueFull = errors.New("connection send queue is full")
)
