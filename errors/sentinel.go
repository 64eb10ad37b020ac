package errors

import "errors"

var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	ErrStreamClosed = errors.New("stream closed")
	ErrDecodeFailed = errors.New("payload decode failed")
	ErrEmptyPayload = errors.New("empty payload")

	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrSlowConsumer      = errors.New("subscriber queue full")
	ErrHubClosed         = errors.New("hub closed")
	ErrUnknownSubscriber = errors.New("subscriber not registered")

	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	ErrWorkerExited = errors.New("worker process exited")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)
