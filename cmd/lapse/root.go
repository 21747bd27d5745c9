package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lapse/internal/config"
	"github.com/yairfalse/lapse/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	envFiles   []string
	logLevel   string
	storePath  string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "lapse",
		Short: "Expiration control for EC2 instances",
		Long: `Lapse - expiration control for EC2 instances

Lapse stops or terminates EC2 instances once the expiration tags they carry
have passed. Each pass acts on everything already due, then moves the single
next-check schedule to the earliest expiration still in the future.

Tags (with the default "expiration" prefix):
  expiration:stop-after-duration       e.g. 2h, 1d12h, 90m
  expiration:stop-after-datetime       e.g. 2024-06-01 18:00:00 UTC
  expiration:terminate-after-duration
  expiration:terminate-after-datetime`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Lapse {{.Version}} - expiration control for EC2 instances
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "TOML config file")
	flags.StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env when present)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.StringVar(&storePath, "store", "", "Use a local bbolt reschedule record at this path")
}

// loadConfig resolves the configuration and installs the global logger.
// Flags are applied through the environment layer so they win over files.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if logLevel != "" {
		if err := os.Setenv("LOG_LEVEL", logLevel); err != nil {
			return err
		}
	}
	if storePath != "" {
		if err := os.Setenv("IX_SCHEDULE_BACKEND", config.BackendLocal); err != nil {
			return err
		}
		if err := os.Setenv("IX_SCHEDULE_STORE", storePath); err != nil {
			return err
		}
	}

	loaded, err := config.Load(configPath, envFiles...)
	if err != nil {
		return err
	}
	cfg = loaded

	log.Logger = telemetry.NewLogger(cfg.OTEL.ServiceName, cfg.Log.Level, os.Stderr)
	return nil
}
