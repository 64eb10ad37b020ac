// Package file provides the event recorder, a hub subscriber that appends
// every broadcast event to a file on disk.
//
// Two formats are supported:
//
//   - jsonl: one Record per line carrying seq, topic, received_at and the
//     payload exactly as the worker emitted it.
//   - raw: the payload bytes followed by a newline.
//
// Writes are batched. The buffer is flushed when it holds buffer_size events,
// every flush_interval, and on Stop. A write failure is counted, reported once
// to the diagnostic sink and marks the recorder degraded until a later write
// succeeds.
//
// Example configuration:
//
//	record:
//	  enabled: true
//	  directory: recordings
//	  file_prefix: events
//	  format: jsonl
//	  append: true
//	  buffer_size: 100
//	  flush_interval: 1s
package file
