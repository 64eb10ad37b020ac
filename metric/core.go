package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "framerelay"

// Delivery results used as the "result" label of deliveries_total.
const (
	DeliveryOK      = "ok"
	DeliveryFailed  = "failed"
	DeliveryDropped = "dropped"
)

// Metrics contains the relay-wide metrics. All Record methods are safe to call
// on a nil *Metrics, so components built without a registry skip recording.
type Metrics struct {
	// Stream metrics
	ChunksTotal       prometheus.Counter
	BytesTotal        prometheus.Counter
	LinesTotal        *prometheus.CounterVec
	DecodeErrorsTotal prometheus.Counter
	RejectedTotal     prometheus.Counter
	DiscardedPartials prometheus.Counter

	// Broadcast metrics
	EventsPublished prometheus.Counter
	DeliveriesTotal *prometheus.CounterVec
	Subscribers     prometheus.Gauge

	// Worker metrics
	WorkerRestarts prometheus.Counter
	WorkerUp       prometheus.Gauge

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all relay metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Total number of chunks read from the worker stream",
		}),
		BytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Total number of bytes read from the worker stream",
		}),
		LinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "lines_total",
				Help:      "Total number of completed lines by classification",
			},
			[]string{"kind"},
		),
		DecodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "decode_errors_total",
			Help:      "Total number of data frames whose payload failed to decode",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "rejected_total",
			Help:      "Total number of decoded events rejected by the schema validator",
		}),
		DiscardedPartials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "discarded_partial_lines_total",
			Help:      "Total number of unterminated lines discarded at stream end",
		}),

		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_published_total",
			Help:      "Total number of events handed to the broadcast hub",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "deliveries_total",
				Help:      "Total number of per-subscriber deliveries by result",
			},
			[]string{"result"},
		),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Number of currently registered subscribers",
		}),

		WorkerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Total number of worker process restarts",
		}),
		WorkerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "up",
			Help:      "Worker process status (0=not running, 1=running)",
		}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ChunksTotal, m.BytesTotal, m.LinesTotal, m.DecodeErrorsTotal,
		m.RejectedTotal, m.DiscardedPartials,
		m.EventsPublished, m.DeliveriesTotal, m.Subscribers,
		m.WorkerRestarts, m.WorkerUp,
		m.NATSConnected, m.NATSReconnects, m.NATSCircuitBreaker,
	}
}

// RecordChunk counts one chunk of n bytes read from the worker
func (m *Metrics) RecordChunk(n int) {
	if m == nil {
		return
	}
	m.ChunksTotal.Inc()
	m.BytesTotal.Add(float64(n))
}

// RecordLine counts a completed line by kind ("data", "log" or "empty")
func (m *Metrics) RecordLine(kind string) {
	if m == nil {
		return
	}
	m.LinesTotal.WithLabelValues(kind).Inc()
}

// RecordDecodeError counts a payload that failed to decode
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.Inc()
}

// RecordRejected counts an event rejected by validation
func (m *Metrics) RecordRejected() {
	if m == nil {
		return
	}
	m.RejectedTotal.Inc()
}

// RecordDiscardedPartial counts a trailing line dropped at stream end
func (m *Metrics) RecordDiscardedPartial() {
	if m == nil {
		return
	}
	m.DiscardedPartials.Inc()
}

// RecordPublished counts an event handed to the hub
func (m *Metrics) RecordPublished() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

// RecordDelivery counts one delivery attempt by result
func (m *Metrics) RecordDelivery(result string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(result).Inc()
}

// RecordSubscribers sets the current subscriber count
func (m *Metrics) RecordSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

// RecordWorkerRestart increments the restart counter
func (m *Metrics) RecordWorkerRestart() {
	if m == nil {
		return
	}
	m.WorkerRestarts.Inc()
}

// RecordWorkerUp updates worker process status
func (m *Metrics) RecordWorkerUp(up bool) {
	if m == nil {
		return
	}
	m.WorkerUp.Set(boolToFloat(up))
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if m == nil {
		return
	}
	m.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSReconnect increments reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	if m == nil {
		return
	}
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (m *Metrics) RecordCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	m.NATSCircuitBreaker.Set(boolToFloat(open))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
