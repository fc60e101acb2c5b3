// Package cli implements the coinvault command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mrz1836/coinvault/internal/config"
	"github.com/mrz1836/coinvault/internal/output"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// BuildInfo is stamped by the linker at release time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

var (
	// Global flags
	homeDir      string
	configPath   string
	envFile      string
	outputFormat string
	verbose      bool

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
	cmdCtx    *CommandContext

	buildInfo  BuildInfo
	enrichHelp sync.Once
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "coinvault",
	Short: "A multi-currency wallet core",
	Long: `coinvault reads balances, estimates fees, builds receive targets and
sends transactions for BTC, BCH, ETH and ERC-20 tokens, XLM, ALGO and DOT.

Key material comes from a BIP39 mnemonic supplied through COINVAULT_MNEMONIC
or an interactive prompt. Nothing is written to disk except cached balances
and output reservations.

Example:
  coinvault balance eth 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed
  coinvault fees btc
  coinvault send eth --from 0x... --to 0x... --amount 0.1 --dry-run`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initGlobals(); err != nil {
			return err
		}
		cmdCtx = NewCommandContext(cfg, logger, formatter)
		SetCmdContext(cmd, cmdCtx)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command.
func Execute() error {
	enrichHelp.Do(func() { walkCommands(rootCmd, enrichCommandHelp) })

	err := rootCmd.Execute()
	if err != nil {
		format := output.FormatText
		if formatter != nil {
			format = formatter.Format()
		}
		_ = output.FormatError(os.Stderr, err, format)
		cleanup()
		return err
	}
	return nil
}

// SetBuildInfo records the version stamped into the binary.
func SetBuildInfo(info BuildInfo) {
	buildInfo = info
	rootCmd.Version = formatVersion(info)
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return vaulterr.ExitCode(err)
}

func formatVersion(info BuildInfo) string {
	v, commit, date := info.Version, info.Commit, info.Date
	if v == "" {
		v = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)
}

// initGlobals initializes global configuration, logger, and formatter.
func initGlobals() error {
	// .env first so COINVAULT_* variables in it count as environment
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return vaulterr.WithCause(vaulterr.ErrConfigInvalid, err)
		}
	}

	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	path := configPath
	if path == "" {
		path = config.Path(home)
	}

	var err error
	cfg, err = config.Load(path)
	if err != nil {
		if !vaulterr.Is(err, vaulterr.ErrConfigNotFound) {
			return err
		}
		cfg = config.Defaults()
		cfg.Home = home
	}

	config.ApplyEnvironment(cfg)

	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != "auto" {
		cfg.Output.DefaultFormat = outputFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logLevel := config.ParseLogLevel(cfg.Logging.Level)
	logger, err = config.NewLogger(logLevel, cfg.Logging.File)
	if err != nil {
		logger = config.NullLogger()
	}

	explicitFormat := output.ParseFormat(cfg.Output.DefaultFormat)
	detectedFormat := output.DetectFormat(os.Stdout, explicitFormat)
	formatter = output.NewFormatter(detectedFormat, os.Stdout)

	return nil
}

// cleanup releases resources. Safe to call more than once.
func cleanup() {
	if cmdCtx != nil {
		cmdCtx.Close()
		cmdCtx = nil
	}
	if logger != nil {
		_ = logger.Close()
	}
}

// Config returns the global configuration.
func Config() *config.Config {
	return cfg
}

// Logger returns the global logger.
func Logger() *config.Logger {
	return logger
}

// Formatter returns the global output formatter.
func Formatter() *output.Formatter {
	return formatter
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "coinvault data directory (default: ~/.coinvault)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <home>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading COINVAULT_* variables")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.SetVersionTemplate("coinvault {{.Version}}\n")
	rootCmd.Version = formatVersion(buildInfo)
}
