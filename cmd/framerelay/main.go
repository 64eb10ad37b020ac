// Package main is the framerelay command. It supervises a worker process,
// extracts the marked JSON lines from its output and broadcasts them to
// websocket clients and, when enabled, NATS.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/framerelay/config"
)

// Build information
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "framerelay"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("Starting framerelay",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return runWithSignalHandling(context.Background(), cfg, logger, cliCfg.ShutdownTimeout)
}

// loadConfig layers the config file, the environment and the log flags, then
// validates the result.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runWithSignalHandling starts the relay and blocks until SIGINT or SIGTERM.
func runWithSignalHandling(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	return serve(signalCtx, cfg, logger, shutdownTimeout)
}

// serve runs the relay until ctx ends or the HTTP server fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	r, err := newRelay(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Components get a context that outlives the signal so that Stop, not
	// cancellation, drives an orderly shutdown.
	if err := r.start(context.WithoutCancel(ctx)); err != nil {
		_ = r.stop(shutdownTimeout)
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- r.gateway.Wait(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		if err != nil && ctx.Err() == nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := r.stop(shutdownTimeout); err != nil {
		logger.Error("Error during shutdown", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	logger.Info("framerelay shutdown complete")
	return runErr
}
