// Package natsclient manages the relay's NATS connection.
//
// Client wraps nats.go with a circuit breaker in front of Connect, connection
// status tracking, and drain-on-close. It carries plain core-NATS publish
// only; events are live and nothing is persisted in JetStream.
//
// # Circuit Breaker
//
// After WithCircuitBreakerThreshold consecutive failed connects (default 5)
// the circuit opens: Connect fails immediately with errors.ErrCircuitOpen
// until the backoff elapses. The backoff comes from pkg/retry, starts at one
// second and doubles every round up to WithMaxBackoff. A successful connect
// or reconnect resets it.
//
// # Lifecycle
//
//	client, err := natsclient.NewClient(cfg.URL,
//		natsclient.WithLogger(logger),
//		natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "framerelay.video_frame", payload)
//
// Status moves Disconnected → Connecting → Connected, and Reconnecting while
// nats.go recovers a dropped connection. With WithMetrics the connection
// state, reconnect count and circuit state are exported as gauges.
//
// # Testing
//
// NewTestServer starts a nats-server container with testcontainers-go and
// returns it with a connected Client. Tests that use it carry the
// integration build tag.
package natsclient
