// Package retry runs a function with exponential backoff.
//
// Do retries until fn succeeds, returns an error wrapped with NonRetryable,
// exhausts Config.MaxAttempts, or the context ends. MaxAttempts set to
// Unlimited never gives up; the worker supervisor uses it for the "always"
// restart policy.
//
//	cfg := retry.DefaultConfig()
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("Worker restarting", "attempt", attempt, "delay", delay, "error", err)
//	}
//	err := retry.Do(ctx, cfg, start)
//
// Backoff exposes the delay sequence on its own for loops that sleep
// themselves.
//
// Classification is left to the caller, typically errors.IsTransient from
// framerelay/errors.
package retry
