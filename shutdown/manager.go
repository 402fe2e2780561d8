// Package shutdown coordinates graceful termination of the generator client:
// signal handling, tracking of in-flight handler work (downloads, journal
// writes) and ordered execution of cleanup stages.
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

	"devoid_client/core"

	"go.uber.org/zap"
)

// ErrShuttingDown is returned by Track once shutdown has begun.
var ErrShuttingDown = errors.New("shutdown in progress")

// Manager owns the process lifetime context.
//
//	m := shutdown.NewManager(logger)
//	m.Register("client", shutdown.StageClient, func(ctx context.Context) error {
//	    return client.Stop(ctx)
//	})
//	m.Start()
//	<-m.Context().Done()
//	err := m.Shutdown()
//	os.Exit(m.ExitCode())
type Manager struct {
	logger   *zap.Logger
	timeout  time.Duration
	registry *Registry
	exit     func(int)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	done     bool
	closed   bool
	signals  int
	exitCode int
	active   int
	idle     *sync.Cond

	sigChan chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 30s.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithForceExit replaces os.Exit for the second-signal path.
func WithForceExit(exit func(int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager returns a Manager whose context is live until a signal
// arrives or Trigger is called.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger,
		timeout:  30 * time.Second,
		registry: NewRegistry(),
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		exitCode: core.ExitCodeSuccess,
		sigChan:  make(chan os.Signal, 2),
	}
	m.idle = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown is requested.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup stage. See the Stage* constants.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("Registered shutdown stage",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start listens for SIGINT and SIGTERM. The first signal cancels the
// context, the second exits immediately with the signal's exit code.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.onSignal(sig)
		}
	}()
}

func (m *Manager) onSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	count := m.signals
	code := signalExitCode(sig)
	if count == 1 {
		m.exitCode = code
	}
	m.mu.Unlock()

	if count == 1 {
		m.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		m.cancel()
		return
	}
	m.logger.Warn("Received second signal, forcing exit", zap.String("signal", sig.String()))
	m.exit(code)
}

// Trigger requests shutdown from inside the process. The first recorded
// exit code wins.
func (m *Manager) Trigger(reason string, exitCode int) {
	m.mu.Lock()
	if m.signals == 0 && m.exitCode == core.ExitCodeSuccess {
		m.exitCode = exitCode
	}
	m.mu.Unlock()
	m.logger.Info("Shutdown requested",
		zap.String("reason", reason),
		zap.String("exit", core.ExitCodeName(exitCode)),
	)
	m.cancel()
}

// ExitCode reports the code the process should exit with.
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// Track runs fn as an in-flight operation. Shutdown waits for tracked
// operations before running cleanup stages.
func (m *Manager) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Debug("Operation rejected during shutdown", zap.String("operation", name))
		return ErrShuttingDown
	}
	m.active++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		if m.active == 0 {
			m.idle.Broadcast()
		}
		m.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the number of tracked operations still running.
func (m *Manager) ActiveOperations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Shutdown cancels the context, waits for tracked operations and runs the
// cleanup stages within the configured timeout. Later calls return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	m.closed = true
	started := m.started
	m.mu.Unlock()
	m.cancel()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("Shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Strings("stages", m.registry.Names()),
	)

	if err := m.waitIdle(ctx); err != nil {
		m.logger.Warn("Gave up waiting for in-flight operations",
			zap.Int("remaining", m.ActiveOperations()),
		)
	}

	errs := m.registry.Run(ctx)
	for _, err := range errs {
		m.logger.Error("Shutdown stage failed", zap.Error(err))
	}

	if started {
		signal.Stop(m.sigChan)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	m.logger.Info("Shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}

func (m *Manager) waitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.idle.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.active > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.idle.Wait()
	}
	return nil
}

func signalExitCode(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return core.ExitCodeSIGTERM
	}
	return core.ExitCodeSIGINT
}
