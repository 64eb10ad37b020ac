package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/framerelay/errors"
)

// defaultStopTimeout bounds a component Stop when the caller's budget is larger.
const defaultStopTimeout = 30 * time.Second

// ManagedComponent tracks a component and its lifecycle state
type ManagedComponent struct {
	Name      string
	Component Discoverable
	State     State
	LastError error

	cancel context.CancelFunc
}

// Manager starts components in registration order and stops them in reverse.
type Manager struct {
	mu         sync.RWMutex
	components map[string]*ManagedComponent
	order      []string
	started    bool
	logger     *slog.Logger
}

// NewManager creates an empty Manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		components: make(map[string]*ManagedComponent),
		logger:     logger.With("component", "manager"),
	}
}

// Register adds a component under name. Components must be registered before Start.
func (m *Manager) Register(name string, comp Discoverable) error {
	if name == "" || comp == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Register", "component validation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Register", "register after start")
	}
	if _, exists := m.components[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q is already registered", name),
			"Manager", "Register", "duplicate component check")
	}

	m.components[name] = &ManagedComponent{Name: name, Component: comp, State: StateCreated}
	m.order = append(m.order, name)
	return nil
}

// Start starts every lifecycle component in registration order, each on its
// own child of ctx. If one fails, those already started are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Start", "start check")
	}
	m.started = true
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for i, name := range order {
		mc := m.managed(name)
		lc, ok := AsLifecycleComponent(mc.Component)
		if !ok {
			m.setState(name, StateStarted, nil)
			continue
		}

		childCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		mc.cancel = cancel
		m.mu.Unlock()

		m.logger.Info("Starting component", "name", name, "type", mc.Component.Meta().Type)
		if err := lc.Start(childCtx); err != nil {
			cancel()
			m.setState(name, StateFailed, err)
			m.logger.Error("Component failed to start", "name", name, "error", err)
			m.stopComponents(order[:i], defaultStopTimeout)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start component %s", name))
		}
		m.setState(name, StateStarted, nil)
	}
	return nil
}

// Stop cancels every component context and stops components in reverse
// registration order. All components are stopped even when some fail.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	errs := m.stopComponents(order, timeout)
	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d components: %v", len(errs), errs)
	}
	return nil
}

func (m *Manager) stopComponents(names []string, timeout time.Duration) []error {
	deadline := time.Now().Add(timeout)

	m.mu.Lock()
	for _, name := range names {
		if mc := m.components[name]; mc != nil && mc.cancel != nil {
			mc.cancel()
			mc.cancel = nil
		}
	}
	m.mu.Unlock()

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		mc := m.managed(name)
		if state, ok := m.State(name); !ok || state != StateStarted {
			continue
		}
		lc, ok := AsLifecycleComponent(mc.Component)
		if !ok {
			m.setState(name, StateStopped, nil)
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if remaining > defaultStopTimeout {
			remaining = defaultStopTimeout
		}

		if err := lc.Stop(remaining); err != nil {
			m.setState(name, StateFailed, err)
			m.logger.Warn("Component failed to stop cleanly", "name", name, "error", err)
			errs = append(errs, fmt.Errorf("component '%s': %w", name, err))
			continue
		}
		m.setState(name, StateStopped, nil)
		m.logger.Debug("Component stopped", "name", name)
	}
	return errs
}

func (m *Manager) managed(name string) *ManagedComponent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.components[name]
}

func (m *Manager) setState(name string, state State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.components[name]; ok {
		mc.State = state
		mc.LastError = err
	}
}

// Component retrieves a specific component instance by name
// Returns nil if the component is not found.
func (m *Manager) Component(name string) Discoverable {
	if mc := m.managed(name); mc != nil {
		return mc.Component
	}
	return nil
}

// State returns the lifecycle state of name
func (m *Manager) State(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.components[name]
	if !ok {
		return StateCreated, false
	}
	return mc.State, true
}

// Names returns component names in registration order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Health queries every component's own Health method. A component whose
// lifecycle failed is reported unhealthy regardless of what it says.
func (m *Manager) Health() map[string]HealthStatus {
	m.mu.RLock()
	snapshot := make([]*ManagedComponent, 0, len(m.order))
	for _, name := range m.order {
		snapshot = append(snapshot, m.components[name])
	}
	m.mu.RUnlock()

	result := make(map[string]HealthStatus, len(snapshot))
	for _, mc := range snapshot {
		h := mc.Component.Health()
		m.mu.RLock()
		state, lastErr := mc.State, mc.LastError
		m.mu.RUnlock()
		if state == StateFailed {
			h.Healthy = false
			h.Degraded = false
			if lastErr != nil {
				h.LastError = lastErr.Error()
			}
		}
		result[mc.Name] = h
	}
	return result
}
