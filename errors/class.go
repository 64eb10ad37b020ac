package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorClass tells a caller what to do with an error.
type ErrorClass int

const (
	// ErrorTransient may succeed on retry.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid is bad input and will fail the same way again.
	ErrorInvalid
	// ErrorFatal means the component cannot continue.
	ErrorFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	}
	return "unknown"
}

// ClassifiedError carries an explicit class and the component and operation
// that produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (e *ClassifiedError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// known maps causes that show up unclassified, mostly from the standard
// library and the worker pipes, onto a class.
var known = []struct {
	err   error
	class ErrorClass
}{
	{ErrConnectionTimeout, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrCircuitOpen, ErrorTransient},
	{ErrDeliveryFailed, ErrorTransient},
	{ErrSlowConsumer, ErrorTransient},
	{ErrWorkerExited, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
	{io.ErrClosedPipe, ErrorTransient},
	{syscall.EPIPE, ErrorTransient},
	{syscall.ECONNRESET, ErrorTransient},
	{syscall.ECONNREFUSED, ErrorTransient},

	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrHubClosed, ErrorFatal},

	{ErrDecodeFailed, ErrorInvalid},
	{ErrEmptyPayload, ErrorInvalid},
}

// Last resort for errors that only carry a message, such as text relayed
// from a NATS server.
var (
	transientWords = []string{"timeout", "connection", "network", "temporar", "unavailable", "broken pipe"}
	fatalWords     = []string{"fatal", "panic", "invalid config", "missing config", "out of memory"}
)

func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, k := range known {
		if errors.Is(err, k.err) {
			return k.class, true
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTransient, true
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, transientWords) {
		return ErrorTransient, true
	}
	if containsAny(msg, fatalWords) {
		return ErrorFatal, true
	}
	return ErrorTransient, false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func is(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	c, ok := classOf(err)
	return ok && c == class
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return is(err, ErrorTransient) }

// IsFatal reports whether err should stop the component.
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// Classify returns the class of err. Unrecognized errors, and nil, are
// transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	c, _ := classOf(err)
	return c
}
