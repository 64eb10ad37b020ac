package component

import (
	"log/slog"

	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/metric"
)

// Dependencies is what the relay hands every component at construction.
// Every field is optional; the accessors substitute a working default.
type Dependencies struct {
	MetricsRegistry *metric.MetricsRegistry
	Diagnostics     diagnostic.Sink // worker log and error channels
	Logger          *slog.Logger
}

// GetLogger falls back to slog.Default.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// GetLoggerWithComponent tags every record with component=name.
func (d *Dependencies) GetLoggerWithComponent(name string) *slog.Logger {
	return d.GetLogger().With("component", name)
}

// GetDiagnostics falls back to diagnostic.Discard.
func (d *Dependencies) GetDiagnostics() diagnostic.Sink {
	if d.Diagnostics == nil {
		return diagnostic.Discard
	}
	return d.Diagnostics
}

// Metrics is nil without a registry. Record methods accept nil.
func (d *Dependencies) Metrics() *metric.Metrics {
	return d.MetricsRegistry.CoreMetrics()
}
