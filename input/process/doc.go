// Package process supervises the worker process that produces the stream.
//
// # Overview
//
// Supervisor spawns the configured command, pipes its stdout into a fresh
// pipeline.Driver and its stderr into the driver's error stream, and waits for
// it to exit. Every run gets a new Driver, so a restarted worker never
// inherits a partial line from the previous one.
//
// # Restart Policy
//
//   - never: the worker runs once. This is the default.
//   - on-failure: a non-zero exit or a crash is restarted with backoff.
//   - always: any exit is restarted with backoff.
//
// Backoff comes from errors.RetryConfig and is applied through pkg/retry.
// MaxRetries of -1 restarts forever. A command that cannot be found is never
// retried.
//
// # Shutdown
//
// Stop cancels the run context. The worker receives SIGTERM and has
// StopTimeout to exit before it is killed. Output already written to the pipe
// is still processed; an unterminated last line follows the stream's
// flush_on_close setting.
//
// # Health
//
// Health is healthy while a worker is running, degraded while a restart is
// pending and unhealthy once the supervisor has given up.
package process
