// Package shutdown provides graceful shutdown coordination for gateway
// components. It handles SIGTERM/SIGINT, stops accepting new requests, lets
// in-flight transfers and queued writes drain, and closes resources cleanly.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default graceful shutdown timeout.
const DefaultTimeout = 30 * time.Second

// Component represents a component that can be gracefully shut down.
type Component interface {
	// Name returns the component name for logging.
	Name() string
	// Shutdown gracefully shuts down the component.
	// It should return within the given context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator manages graceful shutdown of multiple components. Components
// are stopped sequentially in reverse registration order, so a component
// registered after its dependency stops before it: the HTTP server stops
// producing work before the queues that absorb it are closed.
type Coordinator struct {
	components []Component
	timeout    time.Duration
	logger     *slog.Logger
	mu         sync.Mutex

	// For testing: allows injecting a custom signal channel.
	signalCh chan os.Signal

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	exitCode     int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the shutdown timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSignalChannel sets a custom signal channel (for testing).
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signalCh = ch
	}
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
		shutdownDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a component to be shut down during graceful shutdown.
// Components are shut down in reverse order of registration.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until a SIGTERM or SIGINT signal is received, then
// initiates graceful shutdown.
func (c *Coordinator) WaitForSignal() {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	sig := <-sigCh
	c.logger.Info("received shutdown signal", "signal", sig)

	c.Shutdown()
}

// Shutdown runs each registered component's Shutdown in reverse registration
// order under one shared deadline. A failing component is logged and the rest
// still run.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info("initiating graceful shutdown", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		failed := false
		for i := len(components) - 1; i >= 0; i-- {
			component := components[i]

			if ctx.Err() != nil {
				c.logger.Warn("shutdown timeout exceeded, skipping component", "name", component.Name())
				failed = true
				continue
			}

			c.logger.Info("shutting down component", "name", component.Name())
			if err := component.Shutdown(ctx); err != nil {
				c.logger.Error("component shutdown error", "name", component.Name(), "error", err)
				failed = true
			} else {
				c.logger.Info("component shutdown complete", "name", component.Name())
			}
		}

		if failed {
			c.exitCode = 1
		} else {
			c.logger.Info("all components shut down successfully")
		}

		close(c.shutdownDone)
	})
}

// Wait blocks until shutdown is complete.
func (c *Coordinator) Wait() {
	<-c.shutdownDone
}

// ExitCode returns the exit code after shutdown: 0 for a clean shutdown, 1
// when any component failed or the deadline passed.
func (c *Coordinator) ExitCode() int {
	return c.exitCode
}
