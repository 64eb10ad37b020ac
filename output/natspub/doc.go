// Package natspub fans relay output out over NATS.
//
// Publisher subscribes to the broadcast hub like any browser client and
// publishes every event to "<prefix>.<topic>". With the json codec the
// payload bytes go out exactly as the worker wrote them; with cbor the decoded
// value is re-encoded using Core Deterministic Encoding, so equal payloads
// produce identical messages.
//
// DiagnosticSink publishes worker log lines to "<prefix>.diag.log" and
// failures to "<prefix>.diag.error" as encoded diagnostic.Entry values.
//
// A failed NATS publish does not unsubscribe the Publisher: the event is
// counted as lost, the component reports itself degraded, and publishing
// resumes once the connection is back. Only the transition into and out of
// the failing state is logged.
package natspub
