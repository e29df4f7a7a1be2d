package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/sleuth/internal/logging"
)

// DefaultShutdownTimeout is the per-component grace period on Stop.
const DefaultShutdownTimeout = 30 * time.Second

// Manager starts components in registration order and stops them in
// reverse. A failed start rolls back the components already running.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates a manager with DefaultShutdownTimeout.
func NewManager() *Manager {
	return &Manager{
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register appends a component. Components registered later may rely on
// earlier ones being up.
func (m *Manager) Register(component Component) error {
	if component == nil {
		return errors.New("cannot register nil component")
	}
	if component.Name() == "" {
		return errors.New("component must have a non-empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.components {
		if c == component {
			return fmt.Errorf("component %s is already registered", component.Name())
		}
	}
	m.components = append(m.components, component)
	m.logger.Debug("Registered component %s", component.Name())
	return nil
}

// Start starts every registered component. If one fails, the ones already
// started are stopped in reverse order and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.started) > 0 {
		return errors.New("components already started")
	}

	for _, c := range m.components {
		m.logger.Info("Starting %s", c.Name())
		begin := time.Now()

		if err := c.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", c.Name(), err)
			m.rollback()
			return fmt.Errorf("initialization failed for %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
		m.logger.Debug("%s started (took %dms)", c.Name(), time.Since(begin).Milliseconds())
	}
	return nil
}

func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		m.logger.Debug("Rolling back: stopping %s", c.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", c.Name(), err)
		}
		cancel()
	}
	m.started = nil
}

// Stop stops the started components in reverse order. Every component gets
// its own shutdown timeout; errors are collected and do not stop the rest.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		m.logger.Info("Stopping %s", c.Name())

		cctx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := c.Stop(cctx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("Component %s exceeded grace period (%dms timeout)", c.Name(), m.shutdownTimeout.Milliseconds())
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		case err != nil:
			m.logger.Error("Error stopping %s: %v", c.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	m.started = nil
	return errors.Join(errs...)
}

// Running returns the names of the started components in start order.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.started))
	for i, c := range m.started {
		names[i] = c.Name()
	}
	return names
}

// SetShutdownTimeout sets the per-component grace period for Stop.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
