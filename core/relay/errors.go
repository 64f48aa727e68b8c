package relay

import "errors"

var (
	ErrAlreadyRunning = errors.New("relay is already running")
	ErrShuttingDown   = errors.New("relay is shutting down")
)
