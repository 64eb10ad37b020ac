// Package health turns component reports into the status served on /health.
//
// A component is healthy, degraded (running with reduced function, such as a
// worker waiting to restart or a NATS connection that is reconnecting) or
// unhealthy. The relay as a whole takes the worst state among its components.
//
// The gateway syncs a Monitor from component.Manager on every request:
//
//	monitor := health.NewMonitor(logger)
//	monitor.Sync(manager.Health())
//	status := monitor.Snapshot("framerelay")
//	if status.IsUnhealthy() {
//		w.WriteHeader(http.StatusServiceUnavailable)
//	}
//
// The monitor remembers when each component entered its current state and
// logs every transition, so a worker that flaps between running and
// restarting shows up in the relay log even if nobody polls /health.
//
// LastError is sanitized before it is served. Worker errors routinely carry
// file paths, URLs and addresses:
//
//	"dial tcp 10.0.0.5:4222: connection refused"
//	→ "dial tcp [IP][PORT]: connection refused"
package health
