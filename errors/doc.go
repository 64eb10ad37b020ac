// Package errors provides error classification and wrapping for framerelay.
//
// # Error Classes
//
// Every error crossing a component boundary falls into one of three classes:
//
//   - Transient: worth retrying (connection loss, worker exit, slow consumer).
//   - Invalid: bad input that will never succeed on retry (undecodable payload).
//   - Fatal: the component cannot continue (invalid configuration, closed hub).
//
// Classification is available through IsTransient, IsInvalid, IsFatal and
// Classify. An error that was never classified explicitly is matched against
// the standard variables, then the broken-pipe and connection errnos the
// worker pipes and sockets produce, then net.Error timeouts, and finally
// against words in its message.
//
// # Wrapping
//
// Wrapped errors follow a single format:
//
//	"component.method: action failed: %w"
//
// Wrap keeps whatever classification the cause already carries.
// WrapTransient, WrapInvalid and WrapFatal set it:
//
//	return errors.WrapInvalid(err, "JSONDecoder", "Decode", "unmarshal payload")
//
// # Standard Error Variables
//
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrAlreadyStopped, ErrShuttingDown
//   - Stream: ErrStreamClosed, ErrDecodeFailed, ErrEmptyPayload
//   - Broadcast: ErrDeliveryFailed, ErrSlowConsumer, ErrHubClosed, ErrUnknownSubscriber
//   - Connection: ErrNoConnection, ErrConnectionLost, ErrConnectionTimeout, ErrCircuitOpen
//   - Worker: ErrWorkerExited
//   - Configuration: ErrInvalidConfig, ErrMissingConfig
//
// # Retry Configuration
//
// RetryConfig is the serializable form of a retry policy. It is embedded in
// the worker restart configuration and converted with ToRetryConfig before
// being handed to pkg/retry:
//
//	cfg := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, cfg.ToRetryConfig(), start)
//
// Context errors (context.DeadlineExceeded, context.Canceled) classify as
// transient. Callers that must stop on cancellation check ctx.Err() first.
package errors
