// Package component defines the lifecycle and health contract shared by the
// relay's long-running parts, and the Manager that starts and stops them.
//
// # Components
//
// Every part that runs for the life of the process (the worker supervisor,
// the WebSocket output, the NATS publisher) implements Discoverable so that
// it can describe itself and report health, and LifecycleComponent so that
// the Manager can drive it:
//
//	type LifecycleComponent interface {
//		Discoverable
//		Start(ctx context.Context) error  // non-blocking; work runs on ctx
//		Stop(timeout time.Duration) error // graceful, bounded by timeout
//	}
//
// Components receive their collaborators through Dependencies rather than
// reaching for globals. A nil field means the collaborator is not configured.
//
// # Manager
//
// Manager keeps components in registration order. Start derives a child
// context per component and starts them in that order; a failure stops the
// components already started and is returned. Stop cancels every child
// context and then stops components in reverse order:
//
//	mgr := component.NewManager(logger)
//	_ = mgr.Register("nats", publisher)
//	_ = mgr.Register("websocket", wsOutput)
//	_ = mgr.Register("worker", supervisor)
//	if err := mgr.Start(ctx); err != nil { ... }
//	defer mgr.Stop(10 * time.Second)
//
// Health returns each component's own HealthStatus. The health package turns
// these into the aggregate served on the health endpoint.
package component
