package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// parseFlags parses args with environment fallbacks. Flags left at their
// defaults do not override the config file; see applyLogFlags.
func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("FRAMERELAY_CONFIG", ""),
		"Path to configuration file, .json .jsonc .yaml or .yml (env: FRAMERELAY_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("FRAMERELAY_CONFIG", ""),
		"Path to configuration file (env: FRAMERELAY_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("FRAMERELAY_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: FRAMERELAY_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("FRAMERELAY_LOG_FORMAT", ""),
		"Log format: json, text (env: FRAMERELAY_LOG_FORMAT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("FRAMERELAY_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: FRAMERELAY_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(output, fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, strings.ToLower(cfg.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - worker stream relay

Runs a worker process, extracts the marked JSON lines from its output and
broadcasts them to websocket clients and, optionally, NATS.

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with a YAML config
  %[1]s --config=configs/example.yaml

  # Run with debug logging
  %[1]s --config=relay.json --log-level=debug --log-format=text

  # Configure from the environment only
  export FRAMERELAY_WORKER_COMMAND=python3
  export FRAMERELAY_WORKER_ARGS="ai_processor.py"
  %[1]s

  # Validate configuration only
  %[1]s --config=relay.yaml --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
