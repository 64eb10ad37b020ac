package health

import (
	"fmt"
	"time"

	"github.com/c360/framerelay/component"
)

// State is a coarse health level. The zero value is not a valid state.
type State string

// Health states, from best to worst.
const (
	StatusHealthy   State = "healthy"
	StatusDegraded  State = "degraded"
	StatusUnhealthy State = "unhealthy"
)

func (s State) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the JSON shape served on /health, both for the relay as a whole
// and for each component under it.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Since       time.Time `json:"since,omitempty"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the counters a component reported alongside its state.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == StatusHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StatusDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

func newStatus(name string, state State, message string, now time.Time) Status {
	return Status{
		Component: name,
		Healthy:   state == StatusHealthy,
		Status:    state,
		Message:   message,
		Timestamp: now,
	}
}

// stateOf maps a component report onto a State. Healthy wins over Degraded
// when a component sets both.
func stateOf(ch component.HealthStatus) State {
	switch {
	case ch.Healthy:
		return StatusHealthy
	case ch.Degraded:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// FromComponentHealth converts a component report. LastError is sanitized
// before it becomes the message.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	s := newStatus(name, stateOf(ch), sanitizeErrorMessage(ch.LastError), time.Now())
	s.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return s
}

// Aggregate reports the worst state among subs under the given name. An
// empty set is healthy. subs is copied, not retained.
func Aggregate(name string, subs []Status) Status {
	worst := StatusHealthy
	counts := make(map[State]int, 3)
	for _, sub := range subs {
		counts[sub.Status]++
		if sub.Status.severity() > worst.severity() {
			worst = sub.Status
		}
	}

	var msg string
	switch worst {
	case StatusHealthy:
		msg = fmt.Sprintf("%d components healthy", len(subs))
	case StatusDegraded:
		msg = fmt.Sprintf("%d of %d components degraded", counts[StatusDegraded], len(subs))
	default:
		msg = fmt.Sprintf("%d of %d components unhealthy", len(subs)-counts[StatusHealthy]-counts[StatusDegraded], len(subs))
	}

	agg := newStatus(name, worst, msg, time.Now())
	if len(subs) > 0 {
		agg.SubStatuses = append([]Status(nil), subs...)
	}
	return agg
}
