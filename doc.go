// Package framerelay relays structured events from a long-running worker
// process to live subscribers, keeping the worker's diagnostic chatter apart
// from its data.
//
// # Architecture
//
// The worker writes lines to stdout. A line that starts with the marker
// (DATA_START: by default) carries one JSON payload; any other non-blank line
// is a log line. stderr is a separate error stream.
//
//	worker stdout ──> framing.Reassembler ──> framing.Classifier
//	                                             │
//	                     ┌───────────────────────┴──────────────┐
//	                     ▼                                      ▼
//	             parser.Decoder                        diagnostic.Sink.Log
//	                     │ (schema.Validator)
//	                     ▼
//	              broadcast.Hub ──> websocket clients
//	                            ──> NATS publisher
//	                            ──> event recorder
//
//	worker stderr ──> diagnostic.Sink.Error("stderr")
//
// A malformed payload is reported on the diagnostic error channel and the
// stream continues with the next line. The hub queues events per subscriber,
// so a slow client never stalls the pipeline or the other clients.
//
// # Packages
//
// Core:
//   - framing: line reassembly and frame classification
//   - processor/parser: payload decoding
//   - pipeline: the driver that ties chunks, lines, decoding and publishing
//   - broadcast: the subscriber hub
//   - diagnostic: log and error sinks, plus the recent-history ring
//
// Around the core:
//   - input/process: worker supervision and restart policy
//   - output/websocket, output/natspub, output/file: hub subscribers
//   - gateway/http: viewer page, websocket route, metrics, health, diagnostics
//   - processor/schema: optional JSON Schema validation of events
//   - component, health, metric, errors, config, natsclient: shared plumbing
//   - pkg/buffer, pkg/retry, pkg/security, pkg/tlsutil: small utilities
//
// # Binary
//
// Build and run the relay:
//
//	go build -o bin/framerelay ./cmd/framerelay
//	./bin/framerelay --config configs/example.yaml
//
// Open http://localhost:3000/ for the bundled viewer. Clients can also connect
// to ws://localhost:3000/ws directly; every event arrives as
//
//	{"type":"video_frame","id":"<seq>","timestamp":<unix ms>,"payload":{...}}
//
// # Version
//
// Current: v0.1.0
package framerelay
