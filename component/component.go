package component

import (
	"context"
	"time"
)

// Discoverable is the read side every managed component exposes to the
// manager and the health route.
type Discoverable interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// LifecycleComponent can be started and stopped by the Manager. Start
// returns once the component is running; Stop gives up after timeout.
type LifecycleComponent interface {
	Discoverable
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// AsLifecycleComponent reports whether comp can be started and stopped.
func AsLifecycleComponent(comp Discoverable) (LifecycleComponent, bool) {
	lc, ok := comp.(LifecycleComponent)
	return lc, ok
}

// Metadata names a component. Type is one of input, output, processor or
// gateway.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a component's own view of its health. Healthy and Degraded
// are exclusive in practice; Healthy wins when both are set.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	Degraded   bool          `json:"degraded,omitempty"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics are averages since the component started.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Flow averages messages and bytes over the time since started. ErrorRate
// is failed out of attempts. A zero started yields zero rates.
func Flow(started time.Time, messages, bytes, failed, attempts int64) FlowMetrics {
	var fm FlowMetrics
	if attempts > 0 {
		fm.ErrorRate = float64(failed) / float64(attempts)
	}
	if started.IsZero() {
		return fm
	}
	if secs := time.Since(started).Seconds(); secs > 0 {
		fm.MessagesPerSecond = float64(messages) / secs
		fm.BytesPerSecond = float64(bytes) / secs
	}
	return fm
}

// State is a component's position in the Manager lifecycle.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateCreated: "created",
	StateStarted: "started",
	StateStopped: "stopped",
	StateFailed:  "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
