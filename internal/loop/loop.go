// Package loop reads synthesis requests as line pairs, drives a session for
// each one and writes one status line per event. It is the only place that
// decides whether a failure ends the run.
package loop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/session"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/text/unicode/norm"
)

// Status lines and diagnostics.
const (
	ReadyLine        = "Ready"
	SuccessLine      = "Success"
	StateUnknownLine = "TTS state is unknown; exiting"
	InterruptedLine  = "interrupted; exiting"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitFatal = 1
)

// Profile selects how the loop uses engine handles and which failures it
// survives.
type Profile string

const (
	// ProfileReuse starts one handle for the whole run and skips requests
	// that fail in a request-scoped way.
	ProfileReuse Profile = "reuse"

	// ProfilePerRequest starts a fresh handle for every request and treats
	// any failure as fatal.
	ProfilePerRequest Profile = "per-request"
)

// Profiles lists the known profiles.
var Profiles = []Profile{ProfileReuse, ProfilePerRequest}

// ParseProfile validates a profile name. The empty string selects
// ProfileReuse.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileReuse, nil
	case ProfileReuse, ProfilePerRequest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown loop profile %q (want %q or %q)", s, ProfileReuse, ProfilePerRequest)
	}
}

// Session is the engine session driven by the loop.
type Session interface {
	Startup(ctx context.Context) error
	Synthesize(ctx context.Context, req session.Request) error
	Shutdown(ctx context.Context) error
}

// Options configures a Loop.
type Options struct {
	Profile Profile
	In      io.Reader
	Out     io.Writer
	Logger  *log.Logger
}

// Summary counts the requests a run processed.
type Summary struct {
	Requests  int
	Succeeded int
	Failed    int
}

// Loop runs the request/response cycle.
type Loop struct {
	sess    Session
	profile Profile
	in      io.Reader
	out     io.Writer
	logger  *log.Logger
	summary Summary
}

// New creates a loop driving sess.
func New(sess Session, opts Options) *Loop {
	if opts.Profile == "" {
		opts.Profile = ProfileReuse
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Loop{
		sess:    sess,
		profile: opts.Profile,
		in:      opts.In,
		out:     opts.Out,
		logger:  opts.Logger.WithPrefix("loop"),
	}
}

// Summary returns the counts of the last run.
func (l *Loop) Summary() Summary {
	return l.summary
}

// Run processes requests until the input is exhausted, a fatal failure
// occurs or ctx is cancelled, and returns the process exit code.
func (l *Loop) Run(ctx context.Context) int {
	l.summary = Summary{}
	l.logger.Info("Starting", "profile", l.profile)

	stop := make(chan struct{})
	defer close(stop)
	reqs := readRequests(l.in, stop, l.logger)

	var code int
	switch l.profile {
	case ProfilePerRequest:
		code = l.runPerRequest(ctx, reqs)
	default:
		code = l.runReuse(ctx, reqs)
	}

	l.logger.Info("Finished",
		"requests", l.summary.Requests,
		"succeeded", l.summary.Succeeded,
		"failed", l.summary.Failed,
		"exit", code)
	return code
}

func (l *Loop) runReuse(ctx context.Context, reqs <-chan session.Request) int {
	if err := l.sess.Startup(ctx); err != nil {
		l.report(err)
		return ExitFatal
	}
	l.println(ReadyLine)

	code := ExitOK
	for {
		req, ok := l.next(ctx, reqs)
		if !ok {
			if ctx.Err() != nil {
				l.println(InterruptedLine)
				code = ExitFatal
			}
			break
		}

		err := l.synthesize(ctx, req)
		if err == nil {
			continue
		}
		if session.ClassOf(err) == session.ClassRequest {
			continue
		}
		l.escalate(ctx, err)
		code = ExitFatal
		break
	}

	return l.shutdown(ctx, code)
}

func (l *Loop) runPerRequest(ctx context.Context, reqs <-chan session.Request) int {
	if err := l.sess.Startup(ctx); err != nil {
		l.report(err)
		return ExitFatal
	}
	// Ready is printed once per run; the first handle is started before
	// reading so a broken engine never announces readiness.
	l.println(ReadyLine)

	live := true
	for {
		req, ok := l.next(ctx, reqs)
		if !ok {
			if ctx.Err() != nil {
				l.println(InterruptedLine)
				if live {
					return l.shutdown(ctx, ExitFatal)
				}
				return ExitFatal
			}
			break
		}

		if !live {
			if err := l.sess.Startup(ctx); err != nil {
				l.report(err)
				return ExitFatal
			}
		}

		if err := l.synthesize(ctx, req); err != nil {
			l.escalate(ctx, err)
			return l.shutdown(ctx, ExitFatal)
		}
		if code := l.shutdown(ctx, ExitOK); code != ExitOK {
			return code
		}
		live = false
	}

	if live {
		return l.shutdown(ctx, ExitOK)
	}
	return ExitOK
}

// next returns the next request. It reports false at end of input or when
// ctx is cancelled.
func (l *Loop) next(ctx context.Context, reqs <-chan session.Request) (session.Request, bool) {
	select {
	case <-ctx.Done():
		return session.Request{}, false
	case req, ok := <-reqs:
		if ok && ctx.Err() != nil {
			return session.Request{}, false
		}
		return req, ok
	}
}

func (l *Loop) synthesize(ctx context.Context, req session.Request) error {
	l.summary.Requests++
	err := l.sess.Synthesize(ctx, req)
	if err != nil {
		l.summary.Failed++
		l.report(err)
		return err
	}
	l.summary.Succeeded++
	l.println(SuccessLine)
	return nil
}

// escalate prints the diagnostic for a failure that ends the run.
func (l *Loop) escalate(ctx context.Context, err error) {
	switch {
	case session.ClassOf(err) == session.ClassStateUnknown:
		l.println(StateUnknownLine)
	case ctx.Err() != nil:
		l.println(InterruptedLine)
	}
}

// shutdown releases the handle and folds its result into code. The handle
// is released even if ctx was cancelled.
func (l *Loop) shutdown(ctx context.Context, code int) int {
	if err := l.sess.Shutdown(context.WithoutCancel(ctx)); err != nil {
		l.report(err)
		return ExitFatal
	}
	return code
}

// report prints one ERROR line per failed engine operation.
func (l *Loop) report(err error) {
	var opErr *session.OpError
	if !errors.As(err, &opErr) {
		l.logger.Error("Request aborted", "error", err)
		if !errors.Is(err, context.Canceled) {
			l.println("ERROR: " + err.Error())
		}
		return
	}
	for e := opErr; e != nil; e = e.Cleanup {
		l.println(fmt.Sprintf("ERROR: %s returned code %d", e.Op, uint32(e.Code)))
	}
}

func (l *Loop) println(line string) {
	if _, err := fmt.Fprintln(l.out, line); err != nil {
		l.logger.Error("Could not write status line", "line", line, "error", err)
	}
}

// readRequests reads line pairs from r on its own goroutine so the loop can
// observe cancellation while waiting for input. The channel is closed at end
// of input; a path line without a text line counts as end of input.
func readRequests(r io.Reader, stop <-chan struct{}, logger *log.Logger) <-chan session.Request {
	reqs := make(chan session.Request)
	go func() {
		defer close(reqs)
		br := bufio.NewReader(r)
		for {
			path, ok := readLine(br, logger)
			if !ok {
				return
			}
			text, ok := readLine(br, logger)
			if !ok {
				logger.Warn("Input ended after an output path without text", "path", path)
				return
			}

			req := session.Request{
				OutputPath: expandPath(path),
				Text:       norm.NFC.String(text),
			}
			select {
			case reqs <- req:
			case <-stop:
				return
			}
		}
	}()
	return reqs
}

// readLine returns the next line without its terminator. A final line
// without a newline still counts.
func readLine(br *bufio.Reader, logger *log.Logger) (string, bool) {
	line, err := br.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Error("Could not read input", "error", err)
			return "", false
		}
		if line == "" {
			return "", false
		}
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, true
}

func expandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}
