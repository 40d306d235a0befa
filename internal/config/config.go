// Package config holds the decwav configuration and its loading from viper
// and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dgnsrekt/decwav/internal/engine/engines"
	"github.com/dgnsrekt/decwav/internal/engine/piper"
	"github.com/dgnsrekt/decwav/internal/engine/tone"
	"github.com/dgnsrekt/decwav/internal/guard"
	"github.com/dgnsrekt/decwav/internal/license"
	"github.com/dgnsrekt/decwav/internal/loop"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete decwav configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Loop    LoopConfig    `yaml:"loop"`
	License LicenseConfig `yaml:"license"`
}

// EngineConfig selects and configures the synthesis engine.
type EngineConfig struct {
	Name          string        `yaml:"name" env:"DECWAV_ENGINE_NAME"`
	ShutdownGuard string        `yaml:"shutdown_guard" env:"DECWAV_ENGINE_SHUTDOWN_GUARD"`
	KillTimeout   time.Duration `yaml:"kill_timeout" env:"DECWAV_ENGINE_KILL_TIMEOUT"`
	MaxInstances  int           `yaml:"max_instances" env:"DECWAV_ENGINE_MAX_INSTANCES"`
	HangOnStop    bool          `yaml:"hang_on_stop" env:"DECWAV_ENGINE_HANG_ON_STOP"`

	Tone  ToneConfig  `yaml:"tone"`
	Piper PiperConfig `yaml:"piper"`
}

// ToneConfig configures the tone engine.
type ToneConfig struct {
	WordsPerMinute int     `yaml:"words_per_minute" env:"DECWAV_TONE_WORDS_PER_MINUTE"`
	BasePitch      float64 `yaml:"base_pitch" env:"DECWAV_TONE_BASE_PITCH"`
}

// PiperConfig configures the piper engine.
type PiperConfig struct {
	Binary  string        `yaml:"binary" env:"DECWAV_PIPER_BINARY"`
	Model   string        `yaml:"model" env:"DECWAV_PIPER_MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"DECWAV_PIPER_TIMEOUT"`
}

// LoopConfig configures the request loop.
type LoopConfig struct {
	Profile string `yaml:"profile" env:"DECWAV_LOOP_PROFILE"`
}

// LicenseConfig configures the shared license registry.
type LicenseConfig struct {
	Enabled bool   `yaml:"enabled" env:"DECWAV_LICENSE_ENABLED"`
	Name    string `yaml:"name" env:"DECWAV_LICENSE_NAME"`
}

// Env holds process-level switches read straight from the environment.
type Env struct {
	Debug      bool   `env:"DECWAV_DEBUG"`
	LogStderr  bool   `env:"DECWAV_LOG_STDERR"`
	ConfigHome string `env:"DECWAV_CONFIG_HOME"`
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() Config {
	toneDefaults := tone.DefaultConfig()
	return Config{
		Engine: EngineConfig{
			Name:          tone.Name,
			ShutdownGuard: guard.ModeSwap,
			KillTimeout:   guard.DefaultKillTimeout,
			MaxInstances:  1,
			Tone: ToneConfig{
				WordsPerMinute: toneDefaults.WordsPerMinute,
				BasePitch:      toneDefaults.BasePitch,
			},
			Piper: PiperConfig{
				Binary:  piper.DefaultBinary,
				Timeout: piper.DefaultTimeout,
			},
		},
		Loop: LoopConfig{
			Profile: string(loop.ProfileReuse),
		},
		License: LicenseConfig{
			Enabled: true,
			Name:    license.DefaultName,
		},
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error

	if !contains(engines.Names(), c.Engine.Name) {
		msg := fmt.Sprintf("unknown engine %q", c.Engine.Name)
		if s := engines.Suggest(c.Engine.Name); s != "" {
			msg += fmt.Sprintf(", did you mean %q?", s)
		}
		errs = append(errs, errors.New(msg))
	}

	switch c.Engine.ShutdownGuard {
	case guard.ModeSwap, guard.ModeOff:
	default:
		errs = append(errs, fmt.Errorf("shutdown_guard must be %q or %q, got %q",
			guard.ModeSwap, guard.ModeOff, c.Engine.ShutdownGuard))
	}

	if c.Engine.KillTimeout <= 0 {
		errs = append(errs, fmt.Errorf("kill_timeout must be positive, got %v", c.Engine.KillTimeout))
	}
	if c.Engine.MaxInstances < 0 {
		errs = append(errs, fmt.Errorf("max_instances must not be negative, got %d", c.Engine.MaxInstances))
	}

	if wpm := c.Engine.Tone.WordsPerMinute; wpm < tone.MinRate || wpm > tone.MaxRate {
		errs = append(errs, fmt.Errorf("tone words_per_minute must be between %d and %d, got %d",
			tone.MinRate, tone.MaxRate, wpm))
	}
	if p := c.Engine.Tone.BasePitch; p < 50 || p > 400 {
		errs = append(errs, fmt.Errorf("tone base_pitch must be between 50 and 400 Hz, got %g", p))
	}

	if c.Engine.Name == piper.Name && c.Engine.Piper.Model == "" {
		errs = append(errs, errors.New("piper model is required when the piper engine is selected"))
	}
	if c.Engine.Piper.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("piper timeout must be positive, got %v", c.Engine.Piper.Timeout))
	}

	if _, err := loop.ParseProfile(c.Loop.Profile); err != nil {
		errs = append(errs, err)
	}

	if c.License.Enabled && strings.TrimSpace(c.License.Name) == "" {
		errs = append(errs, errors.New("license name must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SetDefaults registers the defaults with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("engine.name", d.Engine.Name)
	v.SetDefault("engine.shutdown_guard", d.Engine.ShutdownGuard)
	v.SetDefault("engine.kill_timeout", d.Engine.KillTimeout.String())
	v.SetDefault("engine.max_instances", d.Engine.MaxInstances)
	v.SetDefault("engine.hang_on_stop", d.Engine.HangOnStop)

	v.SetDefault("engine.tone.words_per_minute", d.Engine.Tone.WordsPerMinute)
	v.SetDefault("engine.tone.base_pitch", d.Engine.Tone.BasePitch)

	v.SetDefault("engine.piper.binary", d.Engine.Piper.Binary)
	v.SetDefault("engine.piper.model", d.Engine.Piper.Model)
	v.SetDefault("engine.piper.timeout", d.Engine.Piper.Timeout.String())

	v.SetDefault("loop.profile", d.Loop.Profile)

	v.SetDefault("license.enabled", d.License.Enabled)
	v.SetDefault("license.name", d.License.Name)
}

// Load reads the configuration from v, starting from the defaults, applies
// environment overrides and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	if v.IsSet("engine.name") {
		cfg.Engine.Name = v.GetString("engine.name")
	}
	if v.IsSet("engine.shutdown_guard") {
		cfg.Engine.ShutdownGuard = v.GetString("engine.shutdown_guard")
	}
	if v.IsSet("engine.kill_timeout") {
		cfg.Engine.KillTimeout = v.GetDuration("engine.kill_timeout")
	}
	if v.IsSet("engine.max_instances") {
		cfg.Engine.MaxInstances = v.GetInt("engine.max_instances")
	}
	if v.IsSet("engine.hang_on_stop") {
		cfg.Engine.HangOnStop = v.GetBool("engine.hang_on_stop")
	}

	if v.IsSet("engine.tone.words_per_minute") {
		cfg.Engine.Tone.WordsPerMinute = v.GetInt("engine.tone.words_per_minute")
	}
	if v.IsSet("engine.tone.base_pitch") {
		cfg.Engine.Tone.BasePitch = v.GetFloat64("engine.tone.base_pitch")
	}

	if v.IsSet("engine.piper.binary") {
		cfg.Engine.Piper.Binary = v.GetString("engine.piper.binary")
	}
	if v.IsSet("engine.piper.model") {
		cfg.Engine.Piper.Model = v.GetString("engine.piper.model")
	}
	if v.IsSet("engine.piper.timeout") {
		cfg.Engine.Piper.Timeout = v.GetDuration("engine.piper.timeout")
	}

	if v.IsSet("loop.profile") {
		cfg.Loop.Profile = v.GetString("loop.profile")
	}

	if v.IsSet("license.enabled") {
		cfg.License.Enabled = v.GetBool("license.enabled")
	}
	if v.IsSet("license.name") {
		cfg.License.Name = v.GetString("license.name")
	}

	// DECWAV_* variables named in the struct tags win over the file.
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfigFromViper loads the configuration from the global viper
// instance.
func LoadConfigFromViper() (Config, error) {
	return Load(viper.GetViper())
}
