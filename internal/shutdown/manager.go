package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"backplate/internal/logger"
)

type Shutdownable interface {
	Shutdown()
}

// ShutdownFunc adapts a plain function to Shutdownable.
type ShutdownFunc func()

func (f ShutdownFunc) Shutdown() { f() }

// Manager turns termination signals into cancellation of the run context
// and releases registered components in reverse registration order.
type Manager struct {
	components []Shutdownable
	logger     logger.Logger
	mu         sync.Mutex
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	sigChan    chan os.Signal
	timeout    time.Duration
}

func NewManager(parent context.Context, log logger.Logger) *Manager {
	if parent == nil {
		parent = context.Background()
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(parent)

	return &Manager{
		components: make([]Shutdownable, 0),
		logger:     log,
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		timeout:    10 * time.Second,
	}
}

func (m *Manager) Register(component Shutdownable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components = append(m.components, component)
}

// Listen cancels the run context on the first SIGINT/SIGTERM so the run can
// drain, and runs the full shutdown sequence on the second.
func (m *Manager) Listen() {
	m.mu.Lock()
	if m.sigChan != nil {
		m.mu.Unlock()
		return
	}
	m.sigChan = make(chan os.Signal, 2)
	sigChan := m.sigChan
	m.mu.Unlock()

	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		received := 0
		for {
			select {
			case sig := <-sigChan:
				received++
				m.logger.Info("ShutdownManager", "shutdown signal received", map[string]interface{}{
					"signal": sig.String(),
					"count":  received,
				})
				if received == 1 {
					m.Cancel()
					continue
				}
				m.Shutdown()
				return
			case <-m.done:
				return
			}
		}
	}()
}

// Cancel cancels the run context without releasing components.
func (m *Manager) Cancel() {
	m.cancel()
}

func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}

	if m.sigChan != nil {
		signal.Stop(m.sigChan)
	}

	m.logger.Debug("ShutdownManager", "shutdown sequence initiated", map[string]interface{}{
		"components": len(m.components),
	})

	m.cancel()

	for i := len(m.components) - 1; i >= 0; i-- {
		component := m.components[i]

		done := make(chan struct{})
		go func() {
			defer close(done)
			component.Shutdown()
		}()

		select {
		case <-done:
		case <-time.After(m.timeout):
			m.logger.Warning("ShutdownManager", "component shutdown timeout", map[string]interface{}{
				"component_index": i,
			})
		}
	}

	m.logger.Debug("ShutdownManager", "shutdown sequence completed", nil)
}

func (m *Manager) Context() context.Context {
	return m.ctx
}

func (m *Manager) Done() <-chan struct{} {
	return m.done
}
