package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TohruskyDev/FinalDream/internal/config"
	"github.com/TohruskyDev/FinalDream/internal/logger"
	"github.com/TohruskyDev/FinalDream/internal/profile"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// activeProfile holds the loaded user profile.
var activeProfile *profile.Profile

var appLog *logger.Logger

var (
	logLevelFlag string
	logFileFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "finaldream",
	Short:         "Generate images locally and follow an output folder as they land",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// First-run: profile missing → run setup wizard automatically.
		// Only do this when stdin is an interactive terminal.
		if !profile.Exists() && term.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to finaldream! Looks like this is your first time.")
			if err := runSetup(cmd, true); err != nil {
				return err
			}
		}

		activeProfile = nil
		// Load profile (optional, may not exist in non-interactive environments).
		if profile.Exists() {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("loading profile: %w", err)
			}
			activeProfile = p
		}

		// Profile values sit under the global and project config files.
		merged, err := config.Load(activeProfile.Config())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = merged
		if logLevelFlag != "" {
			cfg.LogLevel = logLevelFlag
		}
		if logFileFlag != "" {
			cfg.LogFile = logFileFlag
		}

		return initLogger(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appLog == nil {
			return nil
		}
		err := appLog.Close()
		appLog = nil
		return err
	},
}

// initLogger sends logs to stderr unless a full-screen TUI owns the terminal,
// in which case only the log file (if any) receives them.
func initLogger(cmd *cobra.Command) error {
	if appLog != nil {
		_ = appLog.Close()
	}
	l, err := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: !usesTUI(cmd),
		Pretty:  term.IsTerminal(os.Stderr.Fd()),
	})
	if err != nil {
		return err
	}
	appLog = l
	return nil
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// GetProfile returns the active user profile.
func GetProfile() *profile.Profile {
	return activeProfile
}

// componentLogger returns a logger tagged with name.
func componentLogger(name string) zerolog.Logger {
	if appLog == nil {
		return zerolog.Nop()
	}
	return appLog.Component(name)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "also write logs to this file (overrides config)")
}
