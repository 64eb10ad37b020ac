// Package websocket streams broadcast events to browser clients.
//
// # Overview
//
// Output is an http.Handler mounted by the gateway on the websocket path.
// Every upgraded connection registers with the broadcast hub as its own
// subscriber, so the hub's per-subscriber queue, ordering and slow-consumer
// policy apply to each browser independently.
//
// # Quick Start
//
//	out, err := websocket.NewOutput(websocket.DefaultConfig(), hub, deps)
//	if err != nil { ... }
//	mux.Handle("/ws", out)
//	_ = out.Start(ctx)
//
// # Message Format
//
// Each event is written as one text frame holding a MessageEnvelope:
//
//	{"type":"video_frame","id":"42","timestamp":1730000000000,"payload":{...}}
//
// Type is the hub topic, ID the event sequence number, Timestamp the decode
// time in Unix milliseconds, and Payload the worker's JSON exactly as
// received.
//
// # Client Management
//
// Each client gets:
//  1. A read goroutine that answers control frames and notices disconnects.
//     Text sent by the client is read and ignored.
//  2. A write mutex, because gorilla/websocket allows one writer at a time.
//  3. A write deadline of WriteTimeout on every frame.
//
// A failed write returns an error to the hub, which removes the subscriber and
// closes the connection. A ping goroutine sends a ping every PingInterval; a
// client that misses pongs for ReadTimeout is dropped by the read deadline.
//
// # Shutdown
//
// Stop refuses new upgrades, sends a going-away close frame to every client,
// unsubscribes them and waits for their goroutines.
//
// # Metrics
//
// With a MetricsRegistry the component registers, under
// framerelay_websocket_*: clients_connected, client_connections_total,
// client_disconnections_total{disconnect_reason}, messages_sent_total,
// bytes_sent_total, message_size_bytes{topic} and errors_total{error_type}.
package websocket
