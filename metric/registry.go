package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/framerelay/errors"
)

// Registrar accepts collectors owned by a component. Names are scoped by
// owner, so two outputs may each register "messages_sent_total" as long as
// their Prometheus names differ.
type Registrar interface {
	Register(owner, name string, c prometheus.Collector) error
	Unregister(owner, name string) bool
}

type registration struct {
	owner, name string
}

// MetricsRegistry is the relay's Prometheus registry. It always carries
// the core relay metrics and the Go runtime and process collectors.
type MetricsRegistry struct {
	prom    *prometheus.Registry
	Metrics *Metrics

	mu    sync.Mutex
	owned map[registration]prometheus.Collector
}

// NewMetricsRegistry returns a registry with the built-in collectors
// registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:    prometheus.NewRegistry(),
		Metrics: NewMetrics(),
		owned:   make(map[registration]prometheus.Collector),
	}
	r.prom.MustRegister(r.Metrics.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry exposes the underlying registry for Gather.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry { return r.prom }

// CoreMetrics returns the relay metrics. Safe on a nil registry.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// Register adds c under owner/name. Registering the same owner/name twice is
// invalid, and so is a collector whose Prometheus name is already taken.
func (r *MetricsRegistry) Register(owner, name string, c prometheus.Collector) error {
	key := registration{owner, name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.owned[key]; dup {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered by %s", name, owner),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}
	if err := r.prom.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for metric "+name)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register with prometheus")
	}
	r.owned[key] = c
	return nil
}

// Unregister removes owner/name and reports whether it was registered.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	key := registration{owner, name}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.owned[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.owned, key)
	return true
}

// Named pairs a collector with its registration name.
type Named struct {
	Name      string
	Collector prometheus.Collector
}

// RegisterAll registers cs in order and stops at the first error.
func RegisterAll(reg Registrar, owner string, cs ...Named) error {
	for _, c := range cs {
		if err := reg.Register(owner, c.Name, c.Collector); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus text format, with OpenMetrics
// negotiation. Scrape errors are counted under promhttp_metric_handler_*.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(r.prom, promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          r.prom,
	}))
}
