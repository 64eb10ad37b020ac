package health

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/framerelay/component"
)

// Monitor keeps the latest status of every reporting component and logs
// state transitions. Since records when a component entered its current
// state.
type Monitor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor returns an empty monitor. A nil logger discards transitions.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{
		logger:   logger,
		statuses: make(map[string]Status),
	}
}

// Observe records one component report.
func (m *Monitor) Observe(name string, ch component.HealthStatus) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observeLocked(name, FromComponentHealth(name, ch))
}

func (m *Monitor) observeLocked(name string, next Status) Status {
	prev, seen := m.statuses[name]
	switch {
	case !seen:
		next.Since = next.Timestamp
	case prev.Status == next.Status:
		next.Since = prev.Since
	default:
		next.Since = next.Timestamp
		level := slog.LevelWarn
		if next.IsHealthy() {
			level = slog.LevelInfo
		}
		m.logger.Log(context.Background(), level, "Component health changed",
			"component", name,
			"from", prev.Status,
			"to", next.Status,
			"message", next.Message,
			"after", next.Timestamp.Sub(prev.Since).Round(time.Millisecond))
	}
	m.statuses[name] = next
	return next
}

// Sync replaces the monitored set with reports. Components missing from
// reports are forgotten.
func (m *Monitor) Sync(reports map[string]component.HealthStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.statuses {
		if _, ok := reports[name]; !ok {
			delete(m.statuses, name)
		}
	}
	for name, ch := range reports {
		m.observeLocked(name, FromComponentHealth(name, ch))
	}
}

// Get returns the last status recorded for name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Len is the number of monitored components.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Snapshot aggregates the monitored components under system, sorted by name.
func (m *Monitor) Snapshot(system string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(system, subs)
}
