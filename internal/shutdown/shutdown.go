// Package shutdown stops long-running readbench components in priority order
// when a signal arrives.
package shutdown

import (
	"cmp"
	"context"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Shutdownable is an interface for components that can be shut down gracefully
type Shutdownable interface {
	Close() error
}

// CloseFunc adapts a function to Shutdownable.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

// Coordinator manages graceful shutdown of all components
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu         sync.Mutex
	components []namedComponent

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

type namedComponent struct {
	name      string
	component Shutdownable
	priority  int // Lower = shutdown first
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register registers a component for graceful shutdown.
// Priority determines shutdown order (lower = shutdown first); equal
// priorities keep registration order.
func (c *Coordinator) Register(name string, component Shutdownable, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components = append(c.components, namedComponent{
		name:      name,
		component: component,
		priority:  priority,
	})

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered component for shutdown")
}

// WaitForSignal blocks until a shutdown signal is received or shutdown is
// triggered programmatically.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// Context returns a child of parent that is canceled when shutdown is
// triggered. In-flight benchmark runs use it to stop between trials.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Watch triggers shutdown on the first SIGINT, SIGTERM or SIGQUIT. It returns
// immediately; the returned channel receives the signal, if any.
func (c *Coordinator) Watch() <-chan os.Signal {
	out := make(chan os.Signal, 1)
	go func() {
		sig := c.WaitForSignal()
		c.TriggerShutdown()
		out <- sig
	}()
	return out
}

// Shutdown closes every registered component, lowest priority first. It runs
// once; later calls return nil.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		c.mu.Lock()
		components := slices.Clone(c.components)
		c.mu.Unlock()
		sortComponentsByPriority(components)

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("components", len(components)).
			Msg("Starting graceful shutdown")

		for _, comp := range components {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("component", comp.name).
					Msg("Shutdown timeout reached, skipping remaining components")
				shutdownErr = ctx.Err()
				return
			}

			if err := comp.component.Close(); err != nil {
				c.logger.Error().
					Err(err).
					Str("component", comp.name).
					Msg("Component shutdown failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
				continue
			}
			c.logger.Debug().
				Str("component", comp.name).
				Int("priority", comp.priority).
				Msg("Component shutdown complete")
		}

		c.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Graceful shutdown complete")
	})

	return shutdownErr
}

// TriggerShutdown triggers a shutdown programmatically. It is safe to call
// from multiple goroutines.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

func sortComponentsByPriority(components []namedComponent) {
	slices.SortStableFunc(components, func(a, b namedComponent) int {
		return cmp.Compare(a.priority, b.priority)
	})
}

// Shutdown priorities.
const (
	PriorityScheduler = 10 // Stop scheduling and wait for the in-flight run
	PriorityMetrics   = 60 // Write the final metrics textfile
)
