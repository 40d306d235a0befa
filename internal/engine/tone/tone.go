// Package tone provides an in-process synthesis engine. It renders words as
// short voiced and unvoiced tone bursts and honors phoneme annotations, which
// makes it a dependency-free default and a deterministic engine for tests.
package tone

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/instance"
	"github.com/dgnsrekt/decwav/internal/engine/markup"
	"github.com/dgnsrekt/decwav/internal/engine/wav"
	"github.com/dgnsrekt/decwav/internal/license"
)

// Name is the engine name used in configuration.
const Name = "tone"

// Speaking rate bounds in words per minute.
const (
	MinRate     = 75
	MaxRate     = 600
	DefaultRate = 180
)

// DefaultPhonemeDuration is used for phonemes without an annotation.
const DefaultPhonemeDuration = 100 * time.Millisecond

// Config configures the tone engine.
type Config struct {
	WordsPerMinute int
	BasePitch      float64 // Hz
	MaxInstances   int
	HangOnStop     bool
}

// DefaultConfig returns the default tone configuration.
func DefaultConfig() Config {
	return Config{
		WordsPerMinute: DefaultRate,
		BasePitch:      120,
		MaxInstances:   1,
	}
}

// New creates a tone engine.
func New(cfg Config, registry license.Registry, logger *log.Logger) *instance.Engine {
	if cfg.WordsPerMinute == 0 {
		cfg.WordsPerMinute = DefaultRate
	}
	if cfg.BasePitch <= 0 {
		cfg.BasePitch = 120
	}
	return instance.New(instance.Options{
		Name: Name,
		NewRenderer: func() (instance.Renderer, error) {
			return &renderer{wpm: clampRate(cfg.WordsPerMinute), pitch: cfg.BasePitch}, nil
		},
		Registry:     registry,
		MaxInstances: cfg.MaxInstances,
		HangOnStop:   cfg.HangOnStop,
		Logger:       logger,
	})
}

func clampRate(wpm int) int {
	return min(max(wpm, MinRate), MaxRate)
}

// NoteFrequency returns the frequency of an annotation pitch note. Note 1 is
// C2; each step is a semitone.
func NoteFrequency(note int) float64 {
	return 65.406 * math.Pow(2, float64(note-1)/12)
}

type renderer struct {
	wpm   int
	pitch float64
	noise uint32
}

// Render implements instance.Renderer.
func (r *renderer) Render(segs []markup.Segment, format engine.WaveFormat) ([]int16, error) {
	var out []int16
	for _, s := range segs {
		switch s.Kind {
		case markup.KindDirective:
			r.directive(s)
		case markup.KindText:
			out = append(out, r.text(s.Text, format.SampleRate)...)
		case markup.KindPhoneme:
			out = append(out, r.phoneme(s, format.SampleRate)...)
		}
	}
	return out, nil
}

func (r *renderer) directive(s markup.Segment) {
	if s.Text == "rate" && len(s.Args) > 0 {
		if n, err := strconv.Atoi(s.Args[0]); err == nil {
			r.wpm = clampRate(n)
		}
	}
}

func (r *renderer) wordDuration() time.Duration {
	return time.Minute / time.Duration(r.wpm)
}

func (r *renderer) text(text string, rate int) []int16 {
	var out []int16
	for _, word := range strings.Fields(text) {
		letters := []rune(strings.Map(func(c rune) rune {
			if unicode.IsLetter(c) || unicode.IsDigit(c) {
				return unicode.ToLower(c)
			}
			return -1
		}, word))

		if len(letters) > 0 {
			per := r.wordDuration() / time.Duration(len(letters))
			for i, c := range letters {
				if isVowel(c) {
					// Slight declination across the word.
					f := r.pitch * (1.1 - 0.2*float64(i)/float64(len(letters)))
					out = append(out, voiced(f, per, rate)...)
				} else {
					out = append(out, r.unvoiced(per/2, rate)...)
					out = append(out, silence(per/2, rate)...)
				}
			}
		}

		gap := r.wordDuration() / 4
		if strings.ContainsAny(word, ".!?;:,") {
			gap = r.wordDuration()
		}
		out = append(out, silence(gap, rate)...)
	}
	return out
}

func (r *renderer) phoneme(s markup.Segment, rate int) []int16 {
	d := s.Duration
	if d == 0 {
		d = DefaultPhonemeDuration
	}
	f := r.pitch
	if s.Pitch > 0 {
		f = NoteFrequency(s.Pitch)
	}
	if s.Text == "_" {
		return silence(d, rate)
	}
	return voiced(f, d, rate)
}

func isVowel(c rune) bool {
	return strings.ContainsRune("aeiouy", c)
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

func silence(d time.Duration, rate int) []int16 {
	return make([]int16, samplesFor(d, rate))
}

// voiced renders a tone with two harmonics and a short attack and release so
// adjacent bursts do not click.
func voiced(freq float64, d time.Duration, rate int) []int16 {
	n := samplesFor(d, rate)
	out := make([]int16, n)
	ramp := max(samplesFor(5*time.Millisecond, rate), 1)
	for i := range out {
		t := float64(i) / float64(rate)
		v := 0.6*math.Sin(2*math.Pi*freq*t) +
			0.25*math.Sin(4*math.Pi*freq*t) +
			0.1*math.Sin(6*math.Pi*freq*t)
		out[i] = wav.Clamp(0.5 * v * envelope(i, n, ramp))
	}
	return out
}

func (r *renderer) unvoiced(d time.Duration, rate int) []int16 {
	n := samplesFor(d, rate)
	out := make([]int16, n)
	ramp := max(samplesFor(2*time.Millisecond, rate), 1)
	for i := range out {
		v := float64(r.next())/float64(math.MaxUint32)*2 - 1
		out[i] = wav.Clamp(0.15 * v * envelope(i, n, ramp))
	}
	return out
}

// next is a xorshift generator; it keeps output reproducible.
func (r *renderer) next() uint32 {
	if r.noise == 0 {
		r.noise = 2463534242
	}
	r.noise ^= r.noise << 13
	r.noise ^= r.noise >> 17
	r.noise ^= r.noise << 5
	return r.noise
}

func envelope(i, n, ramp int) float64 {
	switch {
	case i < ramp:
		return float64(i) / float64(ramp)
	case i >= n-ramp:
		return float64(n-i) / float64(ramp)
	default:
		return 1
	}
}
