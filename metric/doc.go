// Package metric holds the relay's Prometheus registry.
//
// NewMetricsRegistry builds a registry with the core relay metrics (Metrics)
// and the Go runtime and process collectors. Components with metrics of their
// own, such as the WebSocket output, register them through Registrar under
// their component name:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordChunk(len(chunk))
//	err := metric.RegisterAll(registry, "websocket",
//		metric.Named{Name: "clients_connected", Collector: gauge},
//	)
//	mux.Handle("GET /metrics", registry.Handler())
//
// Every Record method tolerates a nil *Metrics, so components built without a
// registry skip instrumentation.
package metric
