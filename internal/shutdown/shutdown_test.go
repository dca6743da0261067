package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingComponent struct {
	name  string
	err   error
	delay time.Duration

	mu    *sync.Mutex
	order *[]string
}

func (c *recordingComponent) Name() string { return c.name }

func (c *recordingComponent) Shutdown(ctx context.Context) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	*c.order = append(*c.order, c.name)
	c.mu.Unlock()
	return c.err
}

func TestShutdownRunsInReverseRegistrationOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	c := NewCoordinator(WithLogger(quietLogger()))
	c.Register(&recordingComponent{name: "store", mu: &mu, order: &order})
	c.Register(&recordingComponent{name: "recorder", mu: &mu, order: &order})
	c.Register(&recordingComponent{name: "server", mu: &mu, order: &order})

	c.Shutdown()
	c.Wait()

	assert.Equal(t, []string{"server", "recorder", "store"}, order)
	assert.Equal(t, 0, c.ExitCode())
}

func TestShutdownContinuesPastFailingComponent(t *testing.T) {
	var mu sync.Mutex
	var order []string

	c := NewCoordinator(WithLogger(quietLogger()))
	c.Register(&recordingComponent{name: "store", mu: &mu, order: &order})
	c.Register(&recordingComponent{name: "broken", err: errors.New("boom"), mu: &mu, order: &order})

	c.Shutdown()
	c.Wait()

	assert.Equal(t, []string{"broken", "store"}, order)
	assert.Equal(t, 1, c.ExitCode())
}

func TestShutdownTimeoutForcesExitCode(t *testing.T) {
	var mu sync.Mutex
	var order []string

	c := NewCoordinator(WithLogger(quietLogger()), WithTimeout(50*time.Millisecond))
	c.Register(&recordingComponent{name: "slow", delay: time.Second, mu: &mu, order: &order})

	c.Shutdown()
	c.Wait()

	assert.Equal(t, 1, c.ExitCode())
	assert.Empty(t, order)
}

func TestShutdownIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	var order []string

	c := NewCoordinator(WithLogger(quietLogger()))
	c.Register(&recordingComponent{name: "only", mu: &mu, order: &order})

	c.Shutdown()
	c.Shutdown()
	c.Wait()

	assert.Equal(t, []string{"only"}, order)
}

func TestWaitForSignalTriggersShutdown(t *testing.T) {
	var mu sync.Mutex
	var order []string

	sigCh := make(chan os.Signal, 1)
	c := NewCoordinator(WithLogger(quietLogger()), WithSignalChannel(sigCh))
	c.Register(&recordingComponent{name: "server", mu: &mu, order: &order})

	done := make(chan struct{})
	go func() {
		c.WaitForSignal()
		close(done)
	}()

	sigCh <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSignal did not return")
	}

	require.Equal(t, []string{"server"}, order)
}

func TestFuncComponent(t *testing.T) {
	called := false
	fc := NewFuncComponent("fn", func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.Equal(t, "fn", fc.Name())
	require.NoError(t, fc.Shutdown(context.Background()))
	assert.True(t, called)
}
