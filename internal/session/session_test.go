package session

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/enginetest"
	"github.com/dgnsrekt/decwav/internal/engine/tone"
	"github.com/dgnsrekt/decwav/internal/engine/wav"
	"github.com/dgnsrekt/decwav/internal/guard"
	"github.com/dgnsrekt/decwav/internal/license"
)

var quiet = log.New(io.Discard)

func newSession(eng engine.Engine, reg license.Registry) *Session {
	return New(Options{
		Engine:   eng,
		Registry: reg,
		Guard:    &guard.Swap{KillTimeout: time.Second, Logger: quiet},
		Logger:   quiet,
	})
}

func started(t *testing.T, eng engine.Engine) *Session {
	t.Helper()
	s := newSession(eng, license.NewMemory(0))
	if err := s.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error: %v", err)
	}
	return s
}

func TestStartup(t *testing.T) {
	reg := license.NewMemory(3)
	eng := enginetest.New()
	s := newSession(eng, reg)

	if err := s.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error: %v", err)
	}
	if s.State() != StateReady {
		t.Errorf("State() = %v, want %v", s.State(), StateReady)
	}
	if s.Handle() == nil {
		t.Error("Handle() = nil after startup")
	}
	if reg.Resets() != 1 || reg.Count() != 0 {
		t.Errorf("registry resets = %d count = %d, want 1 and 0", reg.Resets(), reg.Count())
	}
	if err := s.Startup(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Startup() error = %v, want ErrInvalidState", err)
	}
}

func TestStartupFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*enginetest.Engine, *license.Memory)
		wantOp   string
		wantCode engine.Code
	}{
		{
			name:     "license reset",
			setup:    func(_ *enginetest.Engine, r *license.Memory) { r.FailReset = true },
			wantOp:   engine.OpLicense,
			wantCode: engine.ErrError,
		},
		{
			name: "engine refuses",
			setup: func(e *enginetest.Engine, _ *license.Memory) {
				e.FailNext(engine.OpStartup, engine.ErrAllocated)
			},
			wantOp:   engine.OpStartup,
			wantCode: engine.ErrAllocated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New()
			reg := license.NewMemory(0)
			tt.setup(eng, reg)
			s := newSession(eng, reg)

			err := s.Startup(context.Background())
			var opErr *OpError
			if !errors.As(err, &opErr) {
				t.Fatalf("Startup() error = %v, want *OpError", err)
			}
			if opErr.Op != tt.wantOp || opErr.Code != tt.wantCode || opErr.Class != ClassFatal {
				t.Errorf("got %+v, want op %s code %d fatal", opErr, tt.wantOp, tt.wantCode)
			}
			if s.State() != StateUninitialized {
				t.Errorf("State() = %v, want %v", s.State(), StateUninitialized)
			}
		})
	}
}

func TestSynthesizeSuccess(t *testing.T) {
	eng := enginetest.New()
	s := started(t, eng)
	path := filepath.Join(t.TempDir(), "a.wav")

	if err := s.Synthesize(context.Background(), Request{OutputPath: path, Text: "hello"}); err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	want := []string{
		engine.OpStartup, engine.OpOpen, engine.OpSpeak, engine.OpSpeak, engine.OpSync, engine.OpClose,
	}
	if got := eng.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("Calls() = %v, want %v", got, want)
	}
	if got := eng.Spoken(); !reflect.DeepEqual(got, []string{Preamble, "hello"}) {
		t.Errorf("Spoken() = %v", got)
	}
	if s.State() != StateReady {
		t.Errorf("State() = %v, want %v", s.State(), StateReady)
	}

	info, err := wav.ReadFileInfo(path)
	if err != nil {
		t.Fatalf("ReadFileInfo() error: %v", err)
	}
	if info.Format != engine.Format1M16 {
		t.Errorf("format = %v, want %v", info.Format, engine.Format1M16)
	}
}

func TestSynthesizeFailures(t *testing.T) {
	tests := []struct {
		name        string
		fail        map[string]engine.Code
		skipPath    bool
		wantOp      string
		wantCode    engine.Code
		wantClass   Class
		wantCleanup bool
		wantClose   bool
		wantState   State
	}{
		{
			name:      "empty path",
			skipPath:  true,
			wantOp:    engine.OpOpen,
			wantCode:  engine.ErrInvalParam,
			wantClass: ClassRequest,
			wantState: StateReady,
		},
		{
			name:      "open",
			fail:      map[string]engine.Code{engine.OpOpen: engine.ErrNotSupport},
			wantOp:    engine.OpOpen,
			wantCode:  engine.ErrNotSupport,
			wantClass: ClassRequest,
			wantState: StateReady,
		},
		{
			name:      "speak",
			fail:      map[string]engine.Code{engine.OpSpeak: engine.ErrNoMem},
			wantOp:    engine.OpSpeak,
			wantCode:  engine.ErrNoMem,
			wantClass: ClassRequest,
			wantClose: true,
			wantState: StateReady,
		},
		{
			name:      "sync",
			fail:      map[string]engine.Code{engine.OpSync: engine.ErrError},
			wantOp:    engine.OpSync,
			wantCode:  engine.ErrError,
			wantClass: ClassRequest,
			wantClose: true,
			wantState: StateReady,
		},
		{
			name:      "close",
			fail:      map[string]engine.Code{engine.OpClose: engine.ErrInvalHandle},
			wantOp:    engine.OpClose,
			wantCode:  engine.ErrInvalHandle,
			wantClass: ClassStateUnknown,
			wantClose: true,
			wantState: StateFaulted,
		},
		{
			name: "speak then close",
			fail: map[string]engine.Code{
				engine.OpSpeak: engine.ErrNoMem,
				engine.OpClose: engine.ErrError,
			},
			wantOp:      engine.OpSpeak,
			wantCode:    engine.ErrNoMem,
			wantClass:   ClassStateUnknown,
			wantCleanup: true,
			wantClose:   true,
			wantState:   StateFaulted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New()
			s := started(t, eng)
			for op, code := range tt.fail {
				eng.FailNext(op, code)
			}

			req := Request{Text: "hello"}
			if !tt.skipPath {
				req.OutputPath = filepath.Join(t.TempDir(), "out.wav")
			}

			err := s.Synthesize(context.Background(), req)
			var opErr *OpError
			if !errors.As(err, &opErr) {
				t.Fatalf("Synthesize() error = %v, want *OpError", err)
			}
			if opErr.Op != tt.wantOp || opErr.Code != tt.wantCode || opErr.Class != tt.wantClass {
				t.Errorf("got %s/%d/%v, want %s/%d/%v",
					opErr.Op, opErr.Code, opErr.Class, tt.wantOp, tt.wantCode, tt.wantClass)
			}
			if (opErr.Cleanup != nil) != tt.wantCleanup {
				t.Errorf("Cleanup = %v, want set %v", opErr.Cleanup, tt.wantCleanup)
			}

			calls := eng.Calls()
			closed := calls[len(calls)-1] == engine.OpClose
			if closed != tt.wantClose {
				t.Errorf("close called = %v, want %v (calls %v)", closed, tt.wantClose, calls)
			}
			if s.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", s.State(), tt.wantState)
			}
		})
	}
}

func TestSynthesizeRecoversAfterRequestFailure(t *testing.T) {
	eng := enginetest.New()
	s := started(t, eng)
	dir := t.TempDir()

	eng.FailNext(engine.OpSpeak, engine.ErrError)
	if err := s.Synthesize(context.Background(), Request{OutputPath: filepath.Join(dir, "a.wav"), Text: "a"}); err == nil {
		t.Fatal("first Synthesize() succeeded, want failure")
	}
	if err := s.Synthesize(context.Background(), Request{OutputPath: filepath.Join(dir, "b.wav"), Text: "b"}); err != nil {
		t.Fatalf("second Synthesize() error: %v", err)
	}
}

func TestSynthesizeInvalidState(t *testing.T) {
	s := newSession(enginetest.New(), nil)
	err := s.Synthesize(context.Background(), Request{OutputPath: "x.wav", Text: "x"})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Synthesize() before startup error = %v, want ErrInvalidState", err)
	}

	eng := enginetest.New()
	s = started(t, eng)
	eng.FailNext(engine.OpClose, engine.ErrError)
	_ = s.Synthesize(context.Background(), Request{OutputPath: filepath.Join(t.TempDir(), "a.wav"), Text: "a"})
	err = s.Synthesize(context.Background(), Request{OutputPath: filepath.Join(t.TempDir(), "b.wav"), Text: "b"})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Synthesize() while faulted error = %v, want ErrInvalidState", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() from faulted error: %v", err)
	}
}

func TestShutdownAndRestart(t *testing.T) {
	eng := enginetest.New()
	s := started(t, eng)
	first := s.Handle()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if s.State() != StateClosed || s.Handle() != nil {
		t.Errorf("after Shutdown state = %v handle = %v", s.State(), s.Handle())
	}
	if err := s.Shutdown(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Shutdown() error = %v, want ErrInvalidState", err)
	}

	if err := s.Startup(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	if s.Handle() == first {
		t.Error("restart reused the closed handle")
	}
}

func TestShutdownFailure(t *testing.T) {
	eng := enginetest.New()
	s := started(t, eng)
	eng.FailNext(engine.OpShutdown, engine.ErrError)
	h := eng.Handles()[0]
	defer h.Loop().Kill()

	err := s.Shutdown(context.Background())
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Op != engine.OpShutdown || opErr.Class != ClassFatal {
		t.Fatalf("Shutdown() error = %v, want fatal shutdown OpError", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want %v", s.State(), StateClosed)
	}
}

func TestToneEngineWithHangingWorker(t *testing.T) {
	cfg := tone.DefaultConfig()
	cfg.HangOnStop = true
	reg := license.NewMemory(0)
	eng := tone.New(cfg, reg, quiet)
	s := newSession(eng, reg)

	if err := s.Startup(context.Background()); err != nil {
		t.Fatalf("Startup() error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	text := "hello [hx<50,10>eh<120,14>l ow<200>] world"
	if err := s.Synthesize(context.Background(), Request{OutputPath: path, Text: text}); err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	info, err := wav.ReadFileInfo(path)
	if err != nil {
		t.Fatalf("ReadFileInfo() error: %v", err)
	}
	if info.Format != engine.Format1M16 || info.Frames() == 0 {
		t.Errorf("artifact format = %v frames = %d", info.Format, info.Frames())
	}

	done := make(chan error, 1)
	go func() { done <- s.Shutdown(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown() hung on the defective worker")
	}
	if reg.Count() != 0 {
		t.Errorf("registry count = %d after shutdown, want 0", reg.Count())
	}
}

func TestOpErrorString(t *testing.T) {
	err := &OpError{
		Op:      engine.OpSpeak,
		Code:    engine.ErrNoMem,
		Class:   ClassStateUnknown,
		Cleanup: &OpError{Op: engine.OpClose, Code: engine.ErrError},
	}
	want := "speak returned code 7; close returned code 1"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if ClassOf(err) != ClassStateUnknown {
		t.Errorf("ClassOf() = %v", ClassOf(err))
	}
	if ClassOf(errors.New("boom")) != ClassFatal {
		t.Error("ClassOf(plain error) should be fatal")
	}
}
