package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner executes a synthesizer process. Tests swap it for a fake.
type Runner interface {
	Run(ctx context.Context, input string, name string, args ...string) ([]byte, error)
}

// subprocess runs one process per call with stdin wired before start, so the
// child never observes an empty stdin.
type subprocess struct {
	mu      sync.Mutex
	timeout time.Duration
}

func newSubprocess(timeout time.Duration) *subprocess {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &subprocess{timeout: timeout}
}

// Run implements Runner.
func (s *subprocess) Run(ctx context.Context, input string, name string, args ...string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	err := cmd.Wait()

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %v", name, s.timeout)
		}
		return nil, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}
