// Package guard releases engine handles. The Swap guard keeps a worker that
// misses its stop signal out of the engine's native shutdown, which would
// otherwise wait on it forever.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/worker"
)

// Guard modes.
const (
	ModeSwap = "swap"
	ModeOff  = "off"
)

// DefaultKillTimeout bounds the wait for a force-killed worker.
const DefaultKillTimeout = 2 * time.Second

// Guard tears down an engine handle. It is the only way a session releases
// a handle.
type Guard interface {
	Teardown(ctx context.Context, eng engine.Engine, h engine.Handle) engine.Code
}

// New returns the guard for mode.
func New(mode string, killTimeout time.Duration, logger *log.Logger) (Guard, error) {
	if logger == nil {
		logger = log.Default()
	}
	switch mode {
	case ModeSwap, "":
		return &Swap{KillTimeout: killTimeout, Logger: logger}, nil
	case ModeOff:
		return Direct{}, nil
	default:
		return nil, fmt.Errorf("unknown shutdown guard %q", mode)
	}
}

// Direct calls the native shutdown and nothing else.
type Direct struct{}

// Teardown implements Guard.
func (Direct) Teardown(_ context.Context, eng engine.Engine, h engine.Handle) engine.Code {
	return eng.Shutdown(h)
}

// Swap installs a placeholder worker on the handle, runs the native shutdown
// against it, then force-kills the original worker.
// If the swap itself fails, Teardown reports engine.ErrError and leaves the
// handle to die with the process.
type Swap struct {
	// KillTimeout bounds the wait for the original worker after it was
	// killed. Defaults to DefaultKillTimeout.
	KillTimeout time.Duration

	// Logger defaults to log.Default().
	Logger *log.Logger

	// NewPlaceholder creates the replacement worker. Defaults to
	// worker.NewPlaceholder.
	NewPlaceholder func() engine.Worker
}

// Teardown implements Guard.
func (s *Swap) Teardown(ctx context.Context, eng engine.Engine, h engine.Handle) engine.Code {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}

	swapper, ok := eng.(engine.WorkerSwapper)
	if !ok {
		logger.Warn("Engine cannot swap its worker, shutting down directly", "engine", eng.Name())
		return eng.Shutdown(h)
	}

	placeholder := s.placeholder()
	orig, err := swapper.SwapBackgroundWorker(h, placeholder)
	if err != nil {
		// Native shutdown would wait on the unswapped worker without a
		// deadline, so it is not attempted.
		logger.Error("Worker swap failed, skipping native shutdown", "engine", eng.Name(), "handle", h.ID(), "error", err)
		return engine.ErrError
	}

	code := eng.Shutdown(h)
	if code.Failed() {
		// Leave the original alone; the caller exits.
		return code
	}

	orig.Kill()

	timeout := s.KillTimeout
	if timeout <= 0 {
		timeout = DefaultKillTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-orig.Done():
		logger.Debug("Background worker terminated", "handle", h.ID())
	case <-timer.C:
		logger.Warn("Background worker did not exit after kill", "handle", h.ID(), "timeout", timeout)
	case <-ctx.Done():
		logger.Warn("Gave up waiting for background worker", "handle", h.ID(), "error", ctx.Err())
	}
	return engine.OK
}

func (s *Swap) placeholder() engine.Worker {
	if s.NewPlaceholder != nil {
		return s.NewPlaceholder()
	}
	return worker.NewPlaceholder()
}
