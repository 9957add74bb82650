package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kalshi-weather-trader/internal/config"
	"kalshi-weather-trader/pkg/types"
)

var (
	cfgPath   string
	modeFlag  string
	rootCmd   = &cobra.Command{
		Use:           "trader",
		Short:         "Autonomous trader for daily-high temperature event contracts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "override configured mode (SHADOW|PAPER|LIVE)")

	rootCmd.AddCommand(runCmd, reconcileCmd, rollupsCmd)
}

// loadConfig reads, overrides, and validates configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if modeFlag != "" {
		cfg.Mode = types.Mode(strings.ToUpper(modeFlag))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging config. The exchange
// private key and API credentials never pass through it.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
