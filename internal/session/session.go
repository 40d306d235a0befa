// Package session owns one engine handle at a time and drives it through
// startup, the per-request open/preamble/speak/sync/close cycle and guarded
// shutdown. It classifies failures but never decides whether to continue.
package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/markup"
	"github.com/dgnsrekt/decwav/internal/guard"
	"github.com/dgnsrekt/decwav/internal/license"
	"github.com/dustin/go-humanize"
)

// Preamble is spoken before every request so phoneme annotations in the
// request text are honored.
const Preamble = markup.PhonemeOnDirective

// Request is one synthesis request.
type Request struct {
	OutputPath string
	Text       string
}

// Options configures a Session.
type Options struct {
	Engine engine.Engine

	// Guard releases the handle. Defaults to a swap guard.
	Guard guard.Guard

	// Registry is reset before every startup. Defaults to license.Nop.
	Registry license.Registry

	// Format is the output format. Defaults to engine.Format1M16.
	Format engine.WaveFormat

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Session drives a single engine handle. It is not safe for concurrent use;
// requests are processed strictly one at a time.
type Session struct {
	eng      engine.Engine
	guard    guard.Guard
	registry license.Registry
	format   engine.WaveFormat
	logger   *log.Logger

	sm     *stateMachine
	handle engine.Handle
}

// New creates a session. No handle exists until Startup.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Guard == nil {
		opts.Guard = &guard.Swap{Logger: opts.Logger}
	}
	if opts.Registry == nil {
		opts.Registry = license.Nop{}
	}
	if opts.Format == (engine.WaveFormat{}) {
		opts.Format = engine.Format1M16
	}
	return &Session{
		eng:      opts.Engine,
		guard:    opts.Guard,
		registry: opts.Registry,
		format:   opts.Format,
		logger:   opts.Logger.WithPrefix("session"),
		sm:       newStateMachine(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return s.sm.current
}

// Handle returns the live handle, or nil.
func (s *Session) Handle() engine.Handle {
	return s.handle
}

// Startup resets the license registry and starts a new handle. It is valid
// before the first startup and after a shutdown.
func (s *Session) Startup(ctx context.Context) error {
	if !s.sm.can(StateReady) {
		return fmt.Errorf("%w: startup while %s", ErrInvalidState, s.sm.current)
	}

	if !s.registry.ResetActiveCount() {
		s.logger.Error("Could not reset license registry")
		return &OpError{Op: engine.OpLicense, Code: engine.ErrError, Class: ClassFatal}
	}

	start := time.Now()
	h, code := s.eng.Startup(ctx)
	if code.Failed() {
		return &OpError{Op: engine.OpStartup, Code: code, Class: ClassFatal}
	}
	if h == nil {
		return &OpError{Op: engine.OpStartup, Code: engine.ErrInvalHandle, Class: ClassFatal}
	}

	s.handle = h
	s.sm.transition(StateReady)
	s.logger.Debug("Engine started", "engine", s.eng.Name(), "handle", h.ID(), "took", time.Since(start))
	return nil
}

// Synthesize renders req into a new file at req.OutputPath. The first failing
// step ends the cycle and is returned as an *OpError. A failure after the
// output was opened still closes it, so no file stays bound to the handle.
func (s *Session) Synthesize(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.sm.transition(StateSynthesizing) {
		return fmt.Errorf("%w: synthesize while %s", ErrInvalidState, s.sm.current)
	}

	m := startMetrics(req)
	err := s.cycle(req)
	if err != nil && ClassOf(err) == ClassStateUnknown {
		s.sm.transition(StateFaulted)
	} else {
		s.sm.transition(StateReady)
	}
	m.finish(s.logger, err)
	return err
}

func (s *Session) cycle(req Request) error {
	h := s.handle

	if code := s.eng.OpenWaveOutFile(h, req.OutputPath, s.format); code.Failed() {
		return &OpError{Op: engine.OpOpen, Code: code, Class: ClassRequest}
	}

	failed := s.render(h, req.Text)

	code := s.eng.CloseWaveOutFile(h)
	if failed == nil {
		if code.Failed() {
			return &OpError{Op: engine.OpClose, Code: code, Class: ClassStateUnknown}
		}
		return nil
	}

	if code.Failed() {
		failed.Class = ClassStateUnknown
		failed.Cleanup = &OpError{Op: engine.OpClose, Code: code, Class: ClassStateUnknown}
	}
	return failed
}

// render speaks the preamble and text and waits for the engine to finish.
func (s *Session) render(h engine.Handle, text string) *OpError {
	if code := s.eng.Speak(h, Preamble); code.Failed() {
		return &OpError{Op: engine.OpSpeak, Code: code, Class: ClassRequest}
	}
	if code := s.eng.Speak(h, text); code.Failed() {
		return &OpError{Op: engine.OpSpeak, Code: code, Class: ClassRequest}
	}
	if code := s.eng.Sync(h); code.Failed() {
		return &OpError{Op: engine.OpSync, Code: code, Class: ClassRequest}
	}
	return nil
}

// Shutdown releases the handle through the guard. The session ends Closed
// whether or not the engine reports success; a failed handle is never
// reused.
func (s *Session) Shutdown(ctx context.Context) error {
	if !s.sm.transition(StateShuttingDown) {
		return fmt.Errorf("%w: shutdown while %s", ErrInvalidState, s.sm.current)
	}

	h := s.handle
	start := time.Now()
	code := s.guard.Teardown(ctx, s.eng, h)

	s.handle = nil
	s.sm.transition(StateClosed)

	if code.Failed() {
		return &OpError{Op: engine.OpShutdown, Code: code, Class: ClassFatal}
	}
	s.logger.Debug("Engine shut down", "handle", h.ID(), "took", time.Since(start))
	return nil
}

// metrics tracks one request for logging.
type metrics struct {
	path  string
	chars int
	start time.Time
}

func startMetrics(req Request) *metrics {
	return &metrics{
		path:  req.OutputPath,
		chars: len([]rune(req.Text)),
		start: time.Now(),
	}
}

func (m *metrics) finish(logger *log.Logger, err error) {
	took := time.Since(m.start)
	if err != nil {
		logger.Warn("Synthesis failed", "path", m.path, "chars", m.chars, "took", took, "error", err)
		return
	}

	kv := []any{"path", m.path, "chars", m.chars, "took", took}
	if fi, statErr := os.Stat(m.path); statErr == nil {
		kv = append(kv, "size", humanize.Bytes(uint64(fi.Size()))) //nolint:gosec
	}
	logger.Info("Synthesized", kv...)
}
