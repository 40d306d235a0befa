// Package main provides the entry point for the decwav CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/decwav/internal/config"
	"github.com/dgnsrekt/decwav/internal/engine"
	"github.com/dgnsrekt/decwav/internal/engine/engines"
	"github.com/dgnsrekt/decwav/internal/engine/piper"
	"github.com/dgnsrekt/decwav/internal/engine/tone"
	"github.com/dgnsrekt/decwav/internal/guard"
	"github.com/dgnsrekt/decwav/internal/license"
	"github.com/dgnsrekt/decwav/internal/loop"
	"github.com/dgnsrekt/decwav/internal/session"
	"github.com/dgnsrekt/decwav/utils"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	envFile    string
	debug      bool
	logStderr  bool
	engineName string
	profile    string
	guardMode  string

	// exitCode is the status the request loop asked for.
	exitCode int

	closeLog = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "decwav",
		Short: "Render speech requests from stdin into WAV files",
		Long: paragraph(
			fmt.Sprintf("\nRead %s from stdin and render each one into a mono 16-bit WAV file.",
				keyword("output path / text line pairs")),
		),
		Example: paragraph("printf '/tmp/a.wav\\nhello\\n' | decwav\ndecwav --engine piper --profile per-request < requests.txt"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	if envFile != "" {
		if err := godotenv.Load(utils.ExpandPath(envFile)); err != nil {
			return fmt.Errorf("unable to load env file: %w", err)
		}
	}

	e, err := env.ParseAs[config.Env]()
	if err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}

	closer, err := setupLog(logStderr || e.LogStderr, debug || e.Debug)
	if err != nil {
		return err
	}
	closeLog = closer

	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(utils.ExpandPath(configFile))
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
	}
	return nil
}

// loadConfig returns the effective configuration: defaults, config file,
// environment and finally the command line flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadConfigFromViper()
	if err != nil {
		return cfg, err //nolint:wrapcheck
	}

	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engine.Name = engineName
	}
	if flags.Changed("profile") {
		cfg.Loop.Profile = profile
	}
	if flags.Changed("guard") {
		cfg.Engine.ShutdownGuard = guardMode
	}
	return cfg, cfg.Validate() //nolint:wrapcheck
}

func newRegistry(cfg config.LicenseConfig, logger *log.Logger) license.Registry {
	if !cfg.Enabled {
		return license.Nop{}
	}
	return license.NewShared(cfg.Name, logger)
}

func engineOptions(cfg config.EngineConfig, registry license.Registry, logger *log.Logger) engines.Options {
	return engines.Options{
		Name: cfg.Name,
		Tone: tone.Config{
			WordsPerMinute: cfg.Tone.WordsPerMinute,
			BasePitch:      cfg.Tone.BasePitch,
			MaxInstances:   cfg.MaxInstances,
			HangOnStop:     cfg.HangOnStop,
		},
		Piper: piper.Config{
			Binary:       cfg.Piper.Binary,
			Model:        utils.ExpandPath(cfg.Piper.Model),
			Timeout:      cfg.Piper.Timeout,
			MaxInstances: cfg.MaxInstances,
			HangOnStop:   cfg.HangOnStop,
		},
		Registry: registry,
		Logger:   logger,
	}
}

func newEngine(cfg config.EngineConfig, registry license.Registry, logger *log.Logger) (engine.Engine, error) {
	return engines.New(engineOptions(cfg, registry, logger)) //nolint:wrapcheck
}

func execute(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec
		fmt.Fprintln(os.Stderr, hint("Reading requests from the terminal: enter an output path, then the text. Ctrl+D ends input."))
	}

	logger := log.Default()
	registry := newRegistry(cfg.License, logger.WithPrefix("license"))
	eng, err := newEngine(cfg.Engine, registry, logger)
	if err != nil {
		return err
	}
	g, err := guard.New(cfg.Engine.ShutdownGuard, cfg.Engine.KillTimeout, logger.WithPrefix("guard"))
	if err != nil {
		return err //nolint:wrapcheck
	}
	p, err := loop.ParseProfile(cfg.Loop.Profile)
	if err != nil {
		return err //nolint:wrapcheck
	}

	log.Info("Starting decwav",
		"version", Version,
		"engine", eng.Name(),
		"guard", cfg.Engine.ShutdownGuard,
		"profile", p)

	sess := session.New(session.Options{
		Engine:   eng,
		Guard:    g,
		Registry: registry,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode = loop.New(sess, loop.Options{
		Profile: p,
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		Logger:  logger,
	}).Run(ctx)
	return nil
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from a .env file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().BoolVar(&logStderr, "log-stderr", false, "log to stderr instead of the log file")
	rootCmd.PersistentFlags().StringVarP(&engineName, "engine", "e", tone.Name, fmt.Sprintf("speech engine %v", engines.Names()))
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", string(loop.ProfileReuse), fmt.Sprintf("loop profile %v", loop.Profiles))
	rootCmd.PersistentFlags().StringVar(&guardMode, "guard", guard.ModeSwap, "shutdown guard (swap or off)")

	config.SetDefaults(viper.GetViper())

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "decwav")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "decwav")}, dirs...)
	}

	if e, err := env.ParseAs[config.Env](); err == nil && e.ConfigHome != "" {
		dirs = append([]string{e.ConfigHome}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("decwav")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	configFile = filepath.Join(dirs[0], "decwav.yml")
}
