// Package shutdown provides graceful shutdown handling.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CleanupFunc is a function called during shutdown.
type CleanupFunc func(ctx context.Context) error

type cleanup struct {
	name string
	fn   CleanupFunc
}

// Handler runs registered cleanups once a shutdown signal arrives.
type Handler struct {
	logger   *slog.Logger
	timeout  time.Duration
	mu       sync.Mutex
	cleanups []cleanup
	once     sync.Once
}

// New creates a new shutdown handler.
func New(logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, timeout: timeout}
}

// RegisterNamed adds a cleanup. Cleanups run one at a time, last registered first,
// so a server registered after its dependencies stops before they close.
func (h *Handler) RegisterNamed(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, cleanup{name: name, fn: fn})
}

// Wait blocks until a signal is received or ctx is done, then runs the cleanups.
func (h *Handler) Wait(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		h.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("context done, shutting down")
	}

	return h.Shutdown()
}

// Shutdown runs the cleanups under the configured timeout. It is safe to call more than once.
func (h *Handler) Shutdown() error {
	var err error
	h.once.Do(func() {
		err = h.run()
	})
	return err
}

func (h *Handler) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	cleanups := make([]cleanup, len(h.cleanups))
	copy(cleanups, h.cleanups)
	h.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if ctx.Err() != nil {
			h.logger.Warn("shutdown timed out, skipping component", "component", c.name)
			errs = append(errs, ctx.Err())
			continue
		}
		h.logger.Info("shutting down component", "component", c.name)
		if err := c.fn(ctx); err != nil {
			h.logger.Error("error shutting down component", "component", c.name, "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		h.logger.Info("graceful shutdown completed")
	}
	return errors.Join(errs...)
}
