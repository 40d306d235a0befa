package loop

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/enginetest"
	"github.com/dgnsrekt/decwav/internal/guard"
	"github.com/dgnsrekt/decwav/internal/license"
	"github.com/dgnsrekt/decwav/internal/session"
)

var quiet = log.New(io.Discard)

type result struct {
	lines []string
	code  int
	loop  *Loop
}

func run(t *testing.T, ctx context.Context, eng *enginetest.Engine, profile Profile, in io.Reader) result {
	t.Helper()

	sess := session.New(session.Options{
		Engine:   eng,
		Registry: license.NewMemory(0),
		Guard:    &guard.Swap{KillTimeout: time.Second, Logger: quiet},
		Logger:   quiet,
	})
	var out bytes.Buffer
	l := New(sess, Options{Profile: profile, In: in, Out: &out, Logger: quiet})

	done := make(chan int, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case code := <-done:
		lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
		if out.Len() == 0 {
			lines = nil
		}
		return result{lines: lines, code: code, loop: l}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
		return result{}
	}
}

func input(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func count(calls []string, op string) int {
	n := 0
	for _, c := range calls {
		if c == op {
			n++
		}
	}
	return n
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestScenarios(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")

	tests := []struct {
		name      string
		in        io.Reader
		setup     func(*enginetest.Engine)
		wantLines []string
		wantCode  int
		wantFiles []string
		noFiles   []string
	}{
		{
			name:      "single request",
			in:        input(a, "hello"),
			wantLines: []string{ReadyLine, SuccessLine},
			wantCode:  ExitOK,
			wantFiles: []string{a},
		},
		{
			name:      "open failure then success",
			in:        input("", "hello", b, "hi"),
			wantLines: []string{ReadyLine, "ERROR: open returned code 11", SuccessLine},
			wantCode:  ExitOK,
			wantFiles: []string{b},
		},
		{
			name:      "speak failure then success",
			in:        input(a, "one", b, "two"),
			setup:     func(e *enginetest.Engine) { e.FailNext(engine.OpSpeak, engine.ErrNoMem) },
			wantLines: []string{ReadyLine, "ERROR: speak returned code 7", SuccessLine},
			wantCode:  ExitOK,
			wantFiles: []string{b},
		},
		{
			name:      "sync failure then success",
			in:        input(a, "one", b, "two"),
			setup:     func(e *enginetest.Engine) { e.FailNext(engine.OpSync, engine.ErrError) },
			wantLines: []string{ReadyLine, "ERROR: sync returned code 1", SuccessLine},
			wantCode:  ExitOK,
			wantFiles: []string{b},
		},
		{
			name:      "no requests",
			in:        strings.NewReader(""),
			wantLines: []string{ReadyLine},
			wantCode:  ExitOK,
		},
		{
			name:      "startup failure",
			in:        input(a, "hello"),
			setup:     func(e *enginetest.Engine) { e.FailNext(engine.OpStartup, engine.ErrAllocated) },
			wantLines: []string{"ERROR: startup returned code 4"},
			wantCode:  ExitFatal,
			noFiles:   []string{a},
		},
		{
			name:  "close failure ends the run",
			in:    input(a, "one", b, "two"),
			setup: func(e *enginetest.Engine) { e.FailNext(engine.OpClose, engine.ErrError) },
			wantLines: []string{
				ReadyLine,
				"ERROR: close returned code 1",
				StateUnknownLine,
			},
			wantCode: ExitFatal,
			noFiles:  []string{b},
		},
		{
			name:  "sync failure then cleanup close failure",
			in:    input(a, "one", b, "two"),
			setup: func(e *enginetest.Engine) {
				e.FailNext(engine.OpSync, engine.ErrNoMem)
				e.FailNext(engine.OpClose, engine.ErrError)
			},
			wantLines: []string{
				ReadyLine,
				"ERROR: sync returned code 7",
				"ERROR: close returned code 1",
				StateUnknownLine,
			},
			wantCode: ExitFatal,
			noFiles:  []string{b},
		},
		{
			name:      "shutdown failure",
			in:        input(a, "hello"),
			setup:     func(e *enginetest.Engine) { e.FailNext(engine.OpShutdown, engine.ErrError) },
			wantLines: []string{ReadyLine, SuccessLine, "ERROR: shutdown returned code 1"},
			wantCode:  ExitFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(a)
			_ = os.Remove(b)

			eng := enginetest.New()
			if tt.setup != nil {
				tt.setup(eng)
			}
			res := run(t, context.Background(), eng, ProfileReuse, tt.in)

			if !reflect.DeepEqual(res.lines, tt.wantLines) {
				t.Errorf("output = %q, want %q", res.lines, tt.wantLines)
			}
			if res.code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", res.code, tt.wantCode)
			}
			for _, f := range tt.wantFiles {
				if !exists(f) {
					t.Errorf("expected %s to exist", f)
				}
			}
			for _, f := range tt.noFiles {
				if exists(f) {
					t.Errorf("expected %s not to exist", f)
				}
			}
			for _, h := range eng.Handles() {
				h.Loop().Kill()
			}
		})
	}
}

func TestReuseKeepsOneHandle(t *testing.T) {
	dir := t.TempDir()
	eng := enginetest.New()
	eng.FailNext(engine.OpSpeak, engine.ErrError)

	res := run(t, context.Background(), eng, ProfileReuse, input(
		filepath.Join(dir, "1.wav"), "one",
		filepath.Join(dir, "2.wav"), "two",
		filepath.Join(dir, "3.wav"), "three",
	))

	want := []string{ReadyLine, "ERROR: speak returned code 1", SuccessLine, SuccessLine}
	if !reflect.DeepEqual(res.lines, want) {
		t.Errorf("output = %q, want %q", res.lines, want)
	}
	calls := eng.Calls()
	if count(calls, engine.OpStartup) != 1 || count(calls, engine.OpShutdown) != 1 {
		t.Errorf("calls = %v, want one startup and one shutdown", calls)
	}
	// The failed request still closed its output.
	if count(calls, engine.OpOpen) != count(calls, engine.OpClose) {
		t.Errorf("open/close calls unbalanced: %v", calls)
	}
	if got := res.loop.Summary(); got != (Summary{Requests: 3, Succeeded: 2, Failed: 1}) {
		t.Errorf("Summary() = %+v", got)
	}
}

func TestPerRequest(t *testing.T) {
	dir := t.TempDir()

	t.Run("fresh handle per request", func(t *testing.T) {
		eng := enginetest.New()
		eng.HangOnStop = true
		res := run(t, context.Background(), eng, ProfilePerRequest, input(
			filepath.Join(dir, "1.wav"), "one",
			filepath.Join(dir, "2.wav"), "two",
		))

		want := []string{ReadyLine, SuccessLine, SuccessLine}
		if !reflect.DeepEqual(res.lines, want) {
			t.Errorf("output = %q, want %q", res.lines, want)
		}
		if res.code != ExitOK {
			t.Errorf("exit code = %d, want %d", res.code, ExitOK)
		}
		calls := eng.Calls()
		if count(calls, engine.OpStartup) != 2 || count(calls, engine.OpShutdown) != 2 {
			t.Errorf("calls = %v, want two startups and two shutdowns", calls)
		}
		for _, h := range eng.Handles() {
			select {
			case <-h.Loop().Done():
			default:
				t.Errorf("worker of %s outlived its handle", h.ID())
			}
		}
	})

	t.Run("any failure is fatal", func(t *testing.T) {
		eng := enginetest.New()
		eng.FailNext(engine.OpOpen, engine.ErrInvalParam)
		res := run(t, context.Background(), eng, ProfilePerRequest, input(
			filepath.Join(dir, "3.wav"), "one",
			filepath.Join(dir, "4.wav"), "two",
		))

		want := []string{ReadyLine, "ERROR: open returned code 11"}
		if !reflect.DeepEqual(res.lines, want) {
			t.Errorf("output = %q, want %q", res.lines, want)
		}
		if res.code != ExitFatal {
			t.Errorf("exit code = %d, want %d", res.code, ExitFatal)
		}
		if count(eng.Calls(), engine.OpShutdown) != 1 {
			t.Errorf("calls = %v, want the handle shut down", eng.Calls())
		}
	})

	t.Run("no requests", func(t *testing.T) {
		eng := enginetest.New()
		res := run(t, context.Background(), eng, ProfilePerRequest, strings.NewReader(""))
		if !reflect.DeepEqual(res.lines, []string{ReadyLine}) || res.code != ExitOK {
			t.Errorf("output = %q code = %d", res.lines, res.code)
		}
		if count(eng.Calls(), engine.OpShutdown) != 1 {
			t.Errorf("calls = %v, want the handle shut down", eng.Calls())
		}
	})

	t.Run("later startup failure", func(t *testing.T) {
		eng := enginetest.New()
		eng.FailNext(engine.OpStartup, engine.OK)
		eng.FailNext(engine.OpStartup, engine.ErrNoDriver)
		res := run(t, context.Background(), eng, ProfilePerRequest, input(
			filepath.Join(dir, "5.wav"), "one",
			filepath.Join(dir, "6.wav"), "two",
		))

		want := []string{ReadyLine, SuccessLine, "ERROR: startup returned code 6"}
		if !reflect.DeepEqual(res.lines, want) || res.code != ExitFatal {
			t.Errorf("output = %q code = %d, want %q", res.lines, res.code, want)
		}
	})
}

func TestInterrupted(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := enginetest.New()
	res := run(t, ctx, eng, ProfileReuse, pr)

	want := []string{ReadyLine, InterruptedLine}
	if !reflect.DeepEqual(res.lines, want) {
		t.Errorf("output = %q, want %q", res.lines, want)
	}
	if res.code != ExitFatal {
		t.Errorf("exit code = %d, want %d", res.code, ExitFatal)
	}
	if count(eng.Calls(), engine.OpShutdown) != 1 {
		t.Errorf("calls = %v, want the handle shut down", eng.Calls())
	}
}

func TestInputFraming(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "crlf.wav")
	b := filepath.Join(dir, "orphan.wav")
	c := filepath.Join(dir, "last.wav")

	tests := []struct {
		name      string
		in        string
		wantLines []string
		wantText  []string
	}{
		{
			name:      "crlf and trailing path",
			in:        a + "\r\nhello\r\n" + b + "\n",
			wantLines: []string{ReadyLine, SuccessLine},
			wantText:  []string{"hello"},
		},
		{
			name:      "final line without newline",
			in:        c + "\nbye",
			wantLines: []string{ReadyLine, SuccessLine},
			wantText:  []string{"bye"},
		},
		{
			name:      "text is normalized",
			in:        c + "\ncafe\u0301\n",
			wantLines: []string{ReadyLine, SuccessLine},
			wantText:  []string{"caf\u00e9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := enginetest.New()
			res := run(t, context.Background(), eng, ProfileReuse, strings.NewReader(tt.in))
			if !reflect.DeepEqual(res.lines, tt.wantLines) {
				t.Errorf("output = %q, want %q", res.lines, tt.wantLines)
			}

			var texts []string
			for _, s := range eng.Spoken() {
				if s != session.Preamble {
					texts = append(texts, s)
				}
			}
			if !reflect.DeepEqual(texts, tt.wantText) {
				t.Errorf("spoken = %q, want %q", texts, tt.wantText)
			}
		})
	}
	if exists(b) {
		t.Errorf("%s was created for a request without text", b)
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{in: "", want: ProfileReuse},
		{in: "reuse", want: ProfileReuse},
		{in: " Per-Request ", want: ProfilePerRequest},
		{in: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProfile(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProfile(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseProfile(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
