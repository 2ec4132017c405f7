package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/shotread/pkg/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager runs registered cleanup hooks in reverse order on shutdown
type Manager struct {
	hooks   []hook
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
}

// New creates a shutdown manager whose hooks share one timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logging.OrDefault(logger),
		done:    make(chan struct{}),
	}
}

// Register adds a hook. Hooks run last registered first.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Wait blocks until SIGINT, SIGTERM or ctx cancellation, then marks the
// manager done.
func (m *Manager) Wait(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		m.logger.Info("Received signal, shutting down", logging.Fields{"signal": sig.String()})
	case <-ctx.Done():
	case <-m.done:
	}
	m.Trigger()
}

// Trigger marks shutdown as started
func (m *Manager) Trigger() {
	m.once.Do(func() { close(m.done) })
}

// Done is closed once shutdown starts
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Shutdown runs every hook and returns their joined errors
func (m *Manager) Shutdown() error {
	m.Trigger()
	m.mu.Lock()
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", logging.Fields{"hook": h.name, "error": err})
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Debug("Shutdown hook done", logging.Fields{"hook": h.name})
	}
	m.logger.Info("Shutdown complete")
	return errors.Join(errs...)
}

// StopHTTPServer adapts an http.Server to a hook
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource adapts an io.Closer to a hook
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}
