// Package worker provides the background worker that engine instances use to
// render queued speech off the caller's goroutine.
package worker

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Job is a unit of work executed on the worker goroutine.
type Job func()

// Options configures a Loop.
type Options struct {
	// QueueSize is the capacity of the job queue. Defaults to 64.
	QueueSize int

	// HangOnStop makes the worker ignore the stop signal and spin until it
	// is killed. It reproduces the shutdown defect of some native engines.
	HangOnStop bool

	// Logger receives worker diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// Loop is a single goroutine draining a job queue. It satisfies
// engine.Worker.
type Loop struct {
	jobs    chan Job
	stop    chan struct{}
	kill    chan struct{}
	exiting chan struct{}
	done    chan struct{}
	logger  *log.Logger

	// mu orders Submit against the exit drain.
	mu     sync.Mutex
	closed bool

	hangOnStop bool
	pending    sync.WaitGroup
	spinning   atomic.Bool

	stopOnce sync.Once
	killOnce sync.Once
}

// Start launches a new worker goroutine.
func Start(opts Options) *Loop {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	l := &Loop{
		jobs:       make(chan Job, opts.QueueSize),
		stop:       make(chan struct{}),
		kill:       make(chan struct{}),
		exiting:    make(chan struct{}),
		done:       make(chan struct{}),
		logger:     opts.Logger,
		hangOnStop: opts.HangOnStop,
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.kill:
			l.exit()
			return
		case job := <-l.jobs:
			job()
			l.pending.Done()
		case <-l.stop:
			if !l.hangOnStop {
				l.exit()
				return
			}
			l.spin()
			return
		}
	}
}

// spin busy-waits until the worker is killed. The stop signal is never
// observed again.
func (l *Loop) spin() {
	l.spinning.Store(true)
	l.logger.Debug("Worker missed stop signal, spinning")
	for {
		select {
		case <-l.kill:
			l.exit()
			return
		default:
			runtime.Gosched()
		}
	}
}

// exit refuses further jobs and discards the queued ones so waiters on Wait
// are released.
func (l *Loop) exit() {
	close(l.exiting)
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	for {
		select {
		case <-l.jobs:
			l.pending.Done()
		default:
			return
		}
	}
}

// Submit queues a job. It returns false if the worker is no longer running.
func (l *Loop) Submit(job Job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	l.pending.Add(1)
	select {
	case l.jobs <- job:
		return true
	case <-l.exiting:
		l.pending.Done()
		return false
	}
}

// Wait blocks until every submitted job has run or been dropped.
func (l *Loop) Wait() {
	l.pending.Wait()
}

// Stop asks the worker to exit once it is idle.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Kill terminates the worker regardless of the stop signal.
func (l *Loop) Kill() {
	l.killOnce.Do(func() { close(l.kill) })
}

// Done is closed when the worker goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Spinning reports whether the worker has entered the defective spin.
func (l *Loop) Spinning() bool {
	return l.spinning.Load()
}

// Placeholder is a worker that has already finished. Stopping it is a no-op,
// and Done is always closed.
type Placeholder struct {
	done   chan struct{}
	killed atomic.Bool
}

// NewPlaceholder returns a completed worker.
func NewPlaceholder() *Placeholder {
	p := &Placeholder{done: make(chan struct{})}
	close(p.done)
	return p
}

// Stop is a no-op.
func (p *Placeholder) Stop() {}

// Done returns a closed channel.
func (p *Placeholder) Done() <-chan struct{} { return p.done }

// Kill records that the placeholder was killed.
func (p *Placeholder) Kill() { p.killed.Store(true) }

// Killed reports whether Kill was called.
func (p *Placeholder) Killed() bool { return p.killed.Load() }
