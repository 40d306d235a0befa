// Package piper provides a speech engine backed by the piper command line
// synthesizer. Each Speak call runs one piper process and appends its raw
// output to the handle's wave file, resampled to the requested format.
//
// Piper has no phoneme input, so phoneme sequences and directives other than
// rate are dropped before synthesis.
package piper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/instance"
	"github.com/dgnsrekt/decwav/internal/engine/markup"
	"github.com/dgnsrekt/decwav/internal/engine/wav"
	"github.com/dgnsrekt/decwav/internal/license"
	"github.com/mitchellh/go-homedir"
)

// Name is the engine name used in configuration.
const Name = "piper"

const (
	// DefaultBinary is looked up in PATH.
	DefaultBinary = "piper"

	// DefaultTimeout bounds a single piper invocation.
	DefaultTimeout = 30 * time.Second

	// NativeRate is the sample rate of piper's raw output for medium models.
	NativeRate = 22050

	// baseRate is the words per minute that maps to a length scale of 1.
	baseRate = 180
)

// Errors returned when the renderer cannot be created.
var (
	ErrNoModel  = errors.New("piper model path is required")
	ErrNoBinary = errors.New("piper binary not found")
)

// Config configures the piper engine.
type Config struct {
	Binary       string
	Model        string
	Timeout      time.Duration
	MaxInstances int
	HangOnStop   bool

	// Runner overrides process execution.
	Runner Runner
}

// New creates a piper engine. Configuration problems surface at Startup as
// engine.ErrNoDriver.
func New(cfg Config, registry license.Registry, logger *log.Logger) *instance.Engine {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Runner == nil {
		cfg.Runner = newSubprocess(cfg.Timeout)
	}
	return instance.New(instance.Options{
		Name: Name,
		NewRenderer: func() (instance.Renderer, error) {
			return newRenderer(cfg)
		},
		Registry:     registry,
		MaxInstances: cfg.MaxInstances,
		HangOnStop:   cfg.HangOnStop,
		Logger:       logger,
	})
}

type renderer struct {
	cfg   Config
	model string
	scale float64
}

func newRenderer(cfg Config) (*renderer, error) {
	if cfg.Model == "" {
		return nil, ErrNoModel
	}
	model, err := homedir.Expand(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("invalid model path: %w", err)
	}
	if _, err := os.Stat(model); err != nil {
		return nil, fmt.Errorf("piper model: %w", err)
	}
	// Only a real process needs a binary on disk.
	if _, ok := cfg.Runner.(*subprocess); ok {
		if _, err := exec.LookPath(cfg.Binary); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoBinary, cfg.Binary)
		}
	}
	return &renderer{cfg: cfg, model: model, scale: 1}, nil
}

// Render implements instance.Renderer.
func (r *renderer) Render(segs []markup.Segment, format engine.WaveFormat) ([]int16, error) {
	var out []int16
	for _, s := range segs {
		switch s.Kind {
		case markup.KindDirective:
			if s.Text == "rate" && len(s.Args) > 0 {
				if n, err := strconv.Atoi(s.Args[0]); err == nil && n > 0 {
					r.scale = float64(baseRate) / float64(min(max(n, 75), 600))
				}
			}
		case markup.KindText:
			samples, err := r.synthesize(s.Text, format.SampleRate)
			if err != nil {
				return out, err
			}
			out = append(out, samples...)
		}
	}
	return out, nil
}

func (r *renderer) synthesize(text string, rate int) ([]int16, error) {
	raw, err := r.cfg.Runner.Run(context.Background(), text, r.cfg.Binary,
		"--model", r.model,
		"--output-raw",
		"--length-scale", strconv.FormatFloat(r.scale, 'f', 2, 64),
	)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("piper produced no audio")
	}
	samples, err := wav.DecodePCM(raw)
	if err != nil {
		return nil, err
	}
	return wav.Resample(samples, NativeRate, rate)
}
