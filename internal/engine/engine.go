// Package engine defines the adapter contract between decwav and a speech
// synthesis engine.
//
// An engine is stateful: Startup hands out an opaque Handle that must be
// driven through OpenWaveOutFile, Speak, Sync and CloseWaveOutFile for every
// artifact and finally released with Shutdown. Every call reports a native
// status Code instead of a Go error so callers can print the exact value the
// engine returned.
package engine

import (
	"context"
	"fmt"
)

// Code is a native engine status code. The values follow the MMRESULT
// convention used by classic Windows speech engines.
type Code uint32

// Status codes.
const (
	OK             Code = 0
	ErrError       Code = 1
	ErrBadDeviceID Code = 2
	ErrNotEnabled  Code = 3
	ErrAllocated   Code = 4
	ErrInvalHandle Code = 5
	ErrNoDriver    Code = 6
	ErrNoMem       Code = 7
	ErrNotSupport  Code = 8
	ErrInvalFlag   Code = 10
	ErrInvalParam  Code = 11
	ErrHandleBusy  Code = 12
)

// Succeeded reports whether c is OK.
func (c Code) Succeeded() bool { return c == OK }

// Failed reports whether c is not OK.
func (c Code) Failed() bool { return c != OK }

// String returns the symbolic name of the code.
func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case ErrError:
		return "error"
	case ErrBadDeviceID:
		return "bad device id"
	case ErrNotEnabled:
		return "not enabled"
	case ErrAllocated:
		return "allocated"
	case ErrInvalHandle:
		return "invalid handle"
	case ErrNoDriver:
		return "no driver"
	case ErrNoMem:
		return "no memory"
	case ErrNotSupport:
		return "not supported"
	case ErrInvalFlag:
		return "invalid flag"
	case ErrInvalParam:
		return "invalid parameter"
	case ErrHandleBusy:
		return "handle busy"
	default:
		return fmt.Sprintf("code %d", uint32(c))
	}
}

// WaveFormat describes the PCM layout of an output file.
type WaveFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Format1M16 is the fixed file output format: 11.025 kHz, mono, 16-bit
// linear PCM.
var Format1M16 = WaveFormat{SampleRate: 11025, Channels: 1, BitsPerSample: 16}

// BlockAlign returns the number of bytes per sample frame.
func (f WaveFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio.
func (f WaveFormat) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// String returns a short human-readable description of the format.
func (f WaveFormat) String() string {
	ch := "mono"
	if f.Channels != 1 {
		ch = fmt.Sprintf("%d channels", f.Channels)
	}
	return fmt.Sprintf("%d Hz %s %d-bit PCM", f.SampleRate, ch, f.BitsPerSample)
}

// Handle is an opaque reference to one live engine instance. Only the engine
// that issued a handle may interpret it.
type Handle interface {
	// ID returns a short identifier for logging.
	ID() string
}

// Engine is implemented by every synthesis backend.
//
// All methods are synchronous. Sync blocks until every queued Speak has been
// rendered into the open output file. Using a handle after Shutdown returned
// OK is undefined.
type Engine interface {
	// Name returns the engine name used in configuration and logs.
	Name() string

	// Startup creates a new engine instance in file output mode (no live
	// audio device).
	Startup(ctx context.Context) (Handle, Code)

	// OpenWaveOutFile binds an output file to the handle.
	OpenWaveOutFile(h Handle, path string, format WaveFormat) Code

	// Speak queues text, including inline directives, for synthesis.
	Speak(h Handle, text string) Code

	// Sync blocks until all queued text has been synthesized.
	Sync(h Handle) Code

	// CloseWaveOutFile finalizes and unbinds the output file.
	CloseWaveOutFile(h Handle) Code

	// Shutdown releases the instance, including its background worker.
	Shutdown(h Handle) Code
}

// Worker is a background worker owned by an engine instance. The engine's
// native Shutdown calls Stop and then waits on Done.
type Worker interface {
	// Stop asks the worker to exit.
	Stop()

	// Done is closed once the worker has exited.
	Done() <-chan struct{}

	// Kill force-terminates the worker and releases its resources.
	Kill()
}

// WorkerSwapper is implemented by engines that let a caller replace the
// background worker referenced by a handle. It exists so a shutdown guard can
// keep a defective worker away from the engine's own shutdown path.
type WorkerSwapper interface {
	// SwapBackgroundWorker installs replacement as the handle's background
	// worker and returns the worker it displaced.
	SwapBackgroundWorker(h Handle, replacement Worker) (Worker, error)
}

// Operation names as reported in status lines.
const (
	OpLicense  = "license"
	OpStartup  = "startup"
	OpOpen     = "open"
	OpSpeak    = "speak"
	OpSync     = "sync"
	OpClose    = "close"
	OpShutdown = "shutdown"
)
