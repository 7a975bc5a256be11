// Package shutdown implements the Shutdown Coordinator (C9): an in-flight
// request counter and broadcast cancellation token used to drain traffic
// gracefully before the process exits.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrShuttingDown is returned by RegisterRequest once shutdown has begun.
var ErrShuttingDown = errors.New("shutdown: server is draining, try again later")

// Coordinator tracks in-flight requests and exposes a broadcast
// cancellation signal fired when shutdown begins.
type Coordinator struct {
	mu        sync.Mutex
	inFlight  int
	draining  bool
	drainedCh chan struct{}
	drainOnce sync.Once

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	logger *zap.Logger
}

// New returns a Coordinator ready to accept requests.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		drainedCh:      make(chan struct{}),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		logger:         logger.With(zap.String("component", "shutdown")),
	}
}

// RegisterRequest admits one in-flight request, or rejects it with
// ErrShuttingDown if draining has begun.
func (c *Coordinator) RegisterRequest() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining {
		return ErrShuttingDown
	}
	c.inFlight++
	return nil
}

// UnregisterRequest decrements the in-flight counter and, if draining and
// the counter has reached zero, signals drain completion.
func (c *Coordinator) UnregisterRequest() {
	c.mu.Lock()
	c.inFlight--
	remaining := c.inFlight
	draining := c.draining
	c.mu.Unlock()

	if draining && remaining <= 0 {
		c.drainOnce.Do(func() { close(c.drainedCh) })
	}
}

// InFlight reports the current in-flight request count, for admin
// introspection.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// CreateRequestSignal returns a context derived from the shutdown signal: it
// is cancelled the moment shutdown begins, independent of any per-request
// timeout or client cancellation layered on top by the caller.
func (c *Coordinator) CreateRequestSignal() context.Context {
	return c.shutdownCtx
}

// IsShuttingDown reports whether shutdown has begun, for error-message
// attribution ("shutdown" vs "client").
func (c *Coordinator) IsShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// Shutdown begins draining: no further requests are admitted. It waits up
// to timeout for in-flight requests to finish naturally, then asserts the
// broadcast cancellation token to abort survivors.
func (c *Coordinator) Shutdown(ctx context.Context, timeout time.Duration) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	remaining := c.inFlight
	c.mu.Unlock()

	if remaining <= 0 {
		c.drainOnce.Do(func() { close(c.drainedCh) })
	}

	c.logger.Info("shutdown started", zap.Int("in_flight", remaining), zap.Duration("timeout", timeout))

	select {
	case <-c.drainedCh:
		c.logger.Info("drained cleanly")
	case <-time.After(timeout):
		c.logger.Warn("drain timeout exceeded, aborting survivors", zap.Int("in_flight", c.InFlight()))
	case <-ctx.Done():
	}

	c.shutdownCancel()
}

// CombinedContext returns a context cancelled when either the shutdown
// signal or the client's own context fires — the Router's "combined
// cancellation signal"/§5.
func CombinedContext(shutdownCtx, clientCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(clientCtx)
	stop := context.AfterFunc(shutdownCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
