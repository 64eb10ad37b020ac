// Package config loads and validates the relay configuration.
//
// # Layers
//
// Load builds the configuration from three sources, each overriding the one
// before:
//
//  1. Default()
//  2. every file added with AddLayer, in order
//  3. FRAMERELAY_* environment variables
//
// Files are parsed by extension: .json with encoding/json, .jsonc after
// stripping comments and trailing commas, .yaml and .yml with yaml.v3. Only
// keys present in a file override earlier values, so a file may set a single
// field of a section.
//
// Duration fields accept Go duration strings:
//
//	worker:
//	  command: python3
//	  args: [worker.py]
//	  restart: on-failure
//	  stop_timeout: 5s
//	  restart_backoff:
//	    max_retries: -1
//	    initial_delay: 500ms
//	    max_delay: 30s
//	    backoff_factor: 2
//
// # Environment
//
// Overrides use the FRAMERELAY_ prefix and the upper-cased section and key,
// for example FRAMERELAY_WORKER_COMMAND, FRAMERELAY_HTTP_ADDR,
// FRAMERELAY_NATS_ENABLED and FRAMERELAY_LOG_LEVEL. FRAMERELAY_WORKER_ARGS is
// split on whitespace. Empty variables are ignored.
//
// # Validation
//
// Validate reports the first problem found as an invalid-class error wrapping
// errors.ErrInvalidConfig. The loader validates only when EnableValidation is
// set; the CLI always enables it.
//
// Config files are read through safeReadFile, which rejects unknown
// extensions, oversized files, non-regular files and relative paths that
// escape the working directory.
package config
