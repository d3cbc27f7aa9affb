package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stocksight/internal/config"
)

var version = "dev"

var (
	cfgFile  string
	dbPath   string
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:           "stocksight",
	Short:         "Track finance channels and analyze their stock calls",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "stocksight.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug or info)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(syncCmd, serveCmd, analyzeCmd, exportCmd, importCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration from file, environment, and
// command-line overrides, and installs the default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level := slog.LevelInfo
	if strings.EqualFold(cfg.LogLevel, "debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	return cfg, nil
}
