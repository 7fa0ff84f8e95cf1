// Package shutdown coordinates graceful shutdown of the client: closing the
// socket session, stopping the config watcher and flushing logs.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/inercia/analyst/internal/logging"
)

// Func performs cleanup during shutdown. It receives a reason string
// describing why shutdown was triggered.
type Func func(reason string)

// Manager ensures cleanup functions run exactly once, whether shutdown is
// triggered by a signal or by the application.
//
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
	reason   string
	cleanups []Func
	logger   *slog.Logger

	stopSignals func()
}

// NewManager creates a new shutdown manager.
// It does not start signal handling until Start() is called.
func NewManager() *Manager {
	return &Manager{
		done:   make(chan struct{}),
		logger: logging.CLI(),
	}
}

// AddCleanup adds a cleanup function to be called during shutdown.
// Cleanup functions are called in the order they were added.
func (m *Manager) AddCleanup(fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, fn)
}

// Start begins listening for SIGINT and SIGTERM. The returned context is
// cancelled as soon as a signal arrives, before cleanups run.
func (m *Manager) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	m.mu.Lock()
	m.stopSignals = func() {
		signal.Stop(sigChan)
		cancel()
	}
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-sigChan:
			m.logger.Info("Signal received, initiating shutdown", "signal", sig.String())
			cancel()
			m.Shutdown("signal:" + sig.String())
		case <-m.done:
		}
	}()
	return ctx
}

// Shutdown triggers graceful shutdown with the given reason.
// It is safe to call multiple times; only the first call runs cleanup.
// It blocks until cleanup is complete.
func (m *Manager) Shutdown(reason string) {
	m.once.Do(func() {
		m.doShutdown(reason)
	})
	<-m.done
}

func (m *Manager) doShutdown(reason string) {
	m.logger.Debug("Starting shutdown sequence", "reason", reason)

	m.mu.Lock()
	m.reason = reason
	cleanups := make([]Func, len(m.cleanups))
	copy(cleanups, m.cleanups)
	stopSignals := m.stopSignals
	m.mu.Unlock()

	for i, fn := range cleanups {
		m.logger.Debug("Running cleanup function", "index", i, "total", len(cleanups))
		fn(reason)
	}

	if stopSignals != nil {
		stopSignals()
	}

	m.logger.Debug("Shutdown sequence complete", "reason", reason)
	close(m.done)
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Reason returns the reason for shutdown, or empty string if not yet shut down.
func (m *Manager) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}
