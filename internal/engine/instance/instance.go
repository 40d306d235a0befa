// Package instance implements the handle bookkeeping shared by the bundled
// engines: output file binding, the background worker that renders queued
// speech, license slots and the native shutdown sequence. Engines plug in a
// Renderer that turns parsed segments into samples.
package instance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/markup"
	"github.com/dgnsrekt/decwav/internal/engine/wav"
	"github.com/dgnsrekt/decwav/internal/engine/worker"
	"github.com/dgnsrekt/decwav/internal/license"
)

// Renderer synthesizes parsed segments. A renderer belongs to one handle and
// is only called from that handle's worker goroutine, so it may keep voice
// state such as the speaking rate between calls.
type Renderer interface {
	Render(segs []markup.Segment, format engine.WaveFormat) ([]int16, error)
}

// Options configures an Engine.
type Options struct {
	// Name is reported by Engine.Name.
	Name string

	// NewRenderer creates the renderer for a new handle. It may fail, for
	// example when a required binary is missing; Startup then reports
	// engine.ErrNoDriver.
	NewRenderer func() (Renderer, error)

	// Registry enforces the instance limit. Defaults to license.Nop.
	Registry license.Registry

	// MaxInstances is the limit passed to Registry.Acquire.
	MaxInstances int

	// HangOnStop makes every worker miss the stop signal.
	HangOnStop bool

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Engine implements engine.Engine and engine.WorkerSwapper.
type Engine struct {
	opts   Options
	logger *log.Logger
	seq    atomic.Uint64
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.WorkerSwapper = (*Engine)(nil)
)

// New creates an engine from opts.
func New(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = license.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Engine{
		opts:   opts,
		logger: opts.Logger.WithPrefix(opts.Name),
	}
}

// handle is the engine-private state behind an engine.Handle.
type handle struct {
	id string

	// worker is the background worker the native shutdown stops and waits
	// on. It may be swapped out; jobs keep going to loop.
	worker engine.Worker
	loop   *worker.Loop

	renderer Renderer
	parser   markup.Parser

	mu     sync.Mutex
	out    *wav.Writer
	failed engine.Code
	closed bool
}

func (h *handle) ID() string { return h.id }

// Name implements engine.Engine.
func (e *Engine) Name() string {
	return e.opts.Name
}

// Startup implements engine.Engine.
func (e *Engine) Startup(ctx context.Context) (engine.Handle, engine.Code) {
	if err := ctx.Err(); err != nil {
		return nil, engine.ErrError
	}

	r, err := e.opts.NewRenderer()
	if err != nil {
		e.logger.Error("Renderer unavailable", "error", err)
		return nil, engine.ErrNoDriver
	}

	if !e.opts.Registry.Acquire(e.opts.MaxInstances) {
		e.logger.Warn("Instance limit reached", "max", e.opts.MaxInstances)
		return nil, engine.ErrAllocated
	}

	id := fmt.Sprintf("%s-%d", e.opts.Name, e.seq.Add(1))
	loop := worker.Start(worker.Options{
		HangOnStop: e.opts.HangOnStop,
		Logger:     e.logger.With("handle", id),
	})

	e.logger.Debug("Instance started", "handle", id)
	return &handle{
		id:       id,
		worker:   loop,
		loop:     loop,
		renderer: r,
		failed:   engine.OK,
	}, engine.OK
}

func (e *Engine) lookup(h engine.Handle) (*handle, bool) {
	hd, ok := h.(*handle)
	if !ok || hd == nil {
		return nil, false
	}
	return hd, true
}

// OpenWaveOutFile implements engine.Engine.
func (e *Engine) OpenWaveOutFile(h engine.Handle, path string, format engine.WaveFormat) engine.Code {
	hd, ok := e.lookup(h)
	if !ok {
		return engine.ErrInvalHandle
	}

	hd.mu.Lock()
	defer hd.mu.Unlock()

	switch {
	case hd.closed:
		return engine.ErrInvalHandle
	case hd.out != nil:
		return engine.ErrHandleBusy
	case path == "":
		return engine.ErrInvalParam
	case format.Channels != 1 || format.BitsPerSample != 16:
		return engine.ErrNotSupport
	}

	w, err := wav.Create(path, format)
	if err != nil {
		e.logger.Error("Could not open output file", "handle", hd.id, "path", path, "error", err)
		return engine.ErrError
	}
	hd.out = w
	hd.failed = engine.OK
	return engine.OK
}

// Speak implements engine.Engine. Text is parsed immediately so directives
// take effect in call order; rendering happens on the worker.
func (e *Engine) Speak(h engine.Handle, text string) engine.Code {
	hd, ok := e.lookup(h)
	if !ok {
		return engine.ErrInvalHandle
	}

	hd.mu.Lock()
	if hd.closed {
		hd.mu.Unlock()
		return engine.ErrInvalHandle
	}
	if hd.out == nil {
		hd.mu.Unlock()
		return engine.ErrNotEnabled
	}
	segs := hd.parser.Parse(text)
	out := hd.out
	hd.mu.Unlock()

	if len(segs) == 0 {
		return engine.OK
	}

	submitted := hd.loop.Submit(func() {
		samples, err := hd.renderer.Render(segs, out.Format())
		if err == nil {
			err = out.WriteSamples(samples)
		}
		if err != nil {
			e.logger.Error("Render failed", "handle", hd.id, "error", err)
			hd.fail(engine.ErrError)
		}
	})
	if !submitted {
		return engine.ErrInvalHandle
	}
	return engine.OK
}

// fail records the first asynchronous failure since the file was opened.
func (h *handle) fail(code engine.Code) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed == engine.OK {
		h.failed = code
	}
}

// Sync implements engine.Engine.
func (e *Engine) Sync(h engine.Handle) engine.Code {
	hd, ok := e.lookup(h)
	if !ok {
		return engine.ErrInvalHandle
	}

	hd.mu.Lock()
	closed := hd.closed
	hd.mu.Unlock()
	if closed {
		return engine.ErrInvalHandle
	}

	start := time.Now()
	hd.loop.Wait()

	hd.mu.Lock()
	defer hd.mu.Unlock()
	code := hd.failed
	hd.failed = engine.OK
	e.logger.Debug("Synced", "handle", hd.id, "took", time.Since(start), "code", code)
	return code
}

// CloseWaveOutFile implements engine.Engine.
func (e *Engine) CloseWaveOutFile(h engine.Handle) engine.Code {
	hd, ok := e.lookup(h)
	if !ok {
		return engine.ErrInvalHandle
	}

	hd.loop.Wait()

	hd.mu.Lock()
	defer hd.mu.Unlock()

	if hd.closed {
		return engine.ErrInvalHandle
	}
	if hd.out == nil {
		return engine.ErrError
	}

	w := hd.out
	hd.out = nil
	if err := w.Close(); err != nil {
		e.logger.Error("Could not close output file", "handle", hd.id, "error", err)
		return engine.ErrError
	}
	return engine.OK
}

// Shutdown implements engine.Engine. It stops the background worker and
// waits for it without a deadline, so a worker that misses the stop signal
// blocks Shutdown forever.
func (e *Engine) Shutdown(h engine.Handle) engine.Code {
	hd, ok := e.lookup(h)
	if !ok {
		return engine.ErrInvalHandle
	}

	hd.mu.Lock()
	if hd.closed {
		hd.mu.Unlock()
		return engine.ErrInvalHandle
	}
	hd.closed = true
	out := hd.out
	hd.out = nil
	w := hd.worker
	hd.mu.Unlock()

	if out != nil {
		e.logger.Warn("Output file still open at shutdown", "handle", hd.id)
		_ = out.Close()
	}

	w.Stop()
	<-w.Done()

	e.opts.Registry.Release()
	e.logger.Debug("Instance shut down", "handle", hd.id)
	return engine.OK
}

// SwapBackgroundWorker implements engine.WorkerSwapper.
func (e *Engine) SwapBackgroundWorker(h engine.Handle, replacement engine.Worker) (engine.Worker, error) {
	hd, ok := e.lookup(h)
	if !ok {
		return nil, engine.ErrForeignHandle
	}

	hd.mu.Lock()
	defer hd.mu.Unlock()

	if hd.closed {
		return nil, engine.ErrHandleClosed
	}
	if hd.worker == nil {
		return nil, engine.ErrNoWorker
	}

	orig := hd.worker
	hd.worker = replacement
	return orig, nil
}
