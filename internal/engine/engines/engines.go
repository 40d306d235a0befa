// Package engines selects a bundled engine by name.
package engines

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/piper"
	"github.com/dgnsrekt/decwav/internal/engine/tone"
	"github.com/dgnsrekt/decwav/internal/license"
	"github.com/sahilm/fuzzy"
)

// Options configures the selected engine.
type Options struct {
	Name     string
	Tone     tone.Config
	Piper    piper.Config
	Registry license.Registry
	Logger   *log.Logger
}

type factory func(Options) engine.Engine

var registry = map[string]factory{
	tone.Name: func(o Options) engine.Engine {
		return tone.New(o.Tone, o.Registry, o.Logger)
	},
	piper.Name: func(o Options) engine.Engine {
		return piper.New(o.Piper, o.Registry, o.Logger)
	},
}

// Names returns the known engine names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New returns the engine called opts.Name.
func New(opts Options) (engine.Engine, error) {
	f, ok := registry[opts.Name]
	if !ok {
		if s := Suggest(opts.Name); s != "" {
			return nil, fmt.Errorf("unknown engine %q, did you mean %q?", opts.Name, s)
		}
		return nil, fmt.Errorf("unknown engine %q (available: %v)", opts.Name, Names())
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return f(opts), nil
}

// Suggest returns the known engine name closest to name, or "".
func Suggest(name string) string {
	if name == "" {
		return ""
	}
	matches := fuzzy.Find(name, Names())
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}
