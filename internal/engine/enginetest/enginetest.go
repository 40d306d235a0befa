// Package enginetest provides a scriptable engine for testing code that
// drives an engine.Engine.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/wav"
	"github.com/dgnsrekt/decwav/internal/engine/worker"
)

// Engine is a fake engine. Failures are scripted per operation name; every
// call is recorded. Handles own a real worker.Loop so shutdown behavior,
// including the stop defect, matches the bundled engines.
type Engine struct {
	// HangOnStop makes handle workers ignore the stop signal.
	HangOnStop bool

	// SwapErr, when set, is returned by SwapBackgroundWorker.
	SwapErr error

	mu      sync.Mutex
	next    map[string][]engine.Code
	always  map[string]engine.Code
	calls   []string
	spoken  []string
	handles []*Handle
	swaps   int
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.WorkerSwapper = (*Engine)(nil)
)

// New returns a fake engine that succeeds at everything.
func New() *Engine {
	return &Engine{
		next:   make(map[string][]engine.Code),
		always: make(map[string]engine.Code),
	}
}

// Handle is the handle type issued by Engine.
type Handle struct {
	id     string
	loop   *worker.Loop
	worker engine.Worker
	out    *wav.Writer
	closed bool
}

// ID implements engine.Handle.
func (h *Handle) ID() string { return h.id }

// Loop returns the worker started for the handle.
func (h *Handle) Loop() *worker.Loop { return h.loop }

// FailNext makes the next call of op return code. Calls queue up.
func (e *Engine) FailNext(op string, code engine.Code) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next[op] = append(e.next[op], code)
}

// FailAlways makes every call of op return code. OK clears it.
func (e *Engine) FailAlways(op string, code engine.Code) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if code == engine.OK {
		delete(e.always, op)
		return
	}
	e.always[op] = code
}

// Calls returns the operations invoked so far, in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Spoken returns every text passed to Speak.
func (e *Engine) Spoken() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spoken...)
}

// Handles returns every handle issued so far.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Handle(nil), e.handles...)
}

// Swaps returns how many times a worker was swapped.
func (e *Engine) Swaps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.swaps
}

// record logs the call and returns its scripted result. Callers hold e.mu.
func (e *Engine) record(op string) engine.Code {
	e.calls = append(e.calls, op)
	if q := e.next[op]; len(q) > 0 {
		e.next[op] = q[1:]
		return q[0]
	}
	if c, ok := e.always[op]; ok {
		return c
	}
	return engine.OK
}

func (e *Engine) handle(h engine.Handle) (*Handle, bool) {
	hd, ok := h.(*Handle)
	if !ok || hd == nil || hd.closed {
		return nil, false
	}
	return hd, true
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "fake" }

// Startup implements engine.Engine.
func (e *Engine) Startup(context.Context) (engine.Handle, engine.Code) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c := e.record(engine.OpStartup); c.Failed() {
		return nil, c
	}
	loop := worker.Start(worker.Options{HangOnStop: e.HangOnStop})
	h := &Handle{
		id:     fmt.Sprintf("fake-%d", len(e.handles)+1),
		loop:   loop,
		worker: loop,
	}
	e.handles = append(e.handles, h)
	return h, engine.OK
}

// OpenWaveOutFile implements engine.Engine. An empty path fails with
// engine.ErrInvalParam.
func (e *Engine) OpenWaveOutFile(h engine.Handle, path string, format engine.WaveFormat) engine.Code {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c := e.record(engine.OpOpen); c.Failed() {
		return c
	}
	hd, ok := e.handle(h)
	switch {
	case !ok:
		return engine.ErrInvalHandle
	case hd.out != nil:
		return engine.ErrHandleBusy
	case path == "":
		return engine.ErrInvalParam
	}
	w, err := wav.Create(path, format)
	if err != nil {
		return engine.ErrError
	}
	hd.out = w
	return engine.OK
}

// Speak implements engine.Engine. Each call appends a short silence.
func (e *Engine) Speak(h engine.Handle, text string) engine.Code {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c := e.record(engine.OpSpeak); c.Failed() {
		return c
	}
	hd, ok := e.handle(h)
	if !ok {
		return engine.ErrInvalHandle
	}
	if hd.out == nil {
		return engine.ErrNotEnabled
	}
	e.spoken = append(e.spoken, text)
	if err := hd.out.WriteSamples(make([]int16, 64)); err != nil {
		return engine.ErrError
	}
	return engine.OK
}

// Sync implements engine.Engine.
func (e *Engine) Sync(h engine.Handle) engine.Code {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c := e.record(engine.OpSync); c.Failed() {
		return c
	}
	if _, ok := e.handle(h); !ok {
		return engine.ErrInvalHandle
	}
	return engine.OK
}

// CloseWaveOutFile implements engine.Engine. A scripted failure leaves the
// file bound to the handle.
func (e *Engine) CloseWaveOutFile(h engine.Handle) engine.Code {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c := e.record(engine.OpClose); c.Failed() {
		return c
	}
	hd, ok := e.handle(h)
	if !ok {
		return engine.ErrInvalHandle
	}
	if hd.out == nil {
		return engine.ErrError
	}
	err := hd.out.Close()
	hd.out = nil
	if err != nil {
		return engine.ErrError
	}
	return engine.OK
}

// Shutdown implements engine.Engine. It stops the handle's current worker and
// waits for it without a deadline.
func (e *Engine) Shutdown(h engine.Handle) engine.Code {
	e.mu.Lock()
	if c := e.record(engine.OpShutdown); c.Failed() {
		e.mu.Unlock()
		return c
	}
	hd, ok := e.handle(h)
	if !ok {
		e.mu.Unlock()
		return engine.ErrInvalHandle
	}
	hd.closed = true
	if hd.out != nil {
		_ = hd.out.Abort()
		hd.out = nil
	}
	w := hd.worker
	e.mu.Unlock()

	w.Stop()
	<-w.Done()
	return engine.OK
}

// SwapBackgroundWorker implements engine.WorkerSwapper.
func (e *Engine) SwapBackgroundWorker(h engine.Handle, replacement engine.Worker) (engine.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hd, ok := h.(*Handle)
	if !ok || hd == nil {
		return nil, engine.ErrForeignHandle
	}
	if hd.closed {
		return nil, engine.ErrHandleClosed
	}
	if e.SwapErr != nil {
		return nil, e.SwapErr
	}
	orig := hd.worker
	hd.worker = replacement
	e.swaps++
	return orig, nil
}

// WithoutSwap hides the WorkerSwapper capability of eng.
func WithoutSwap(eng engine.Engine) engine.Engine {
	return plain{eng}
}

type plain struct {
	engine.Engine
}
