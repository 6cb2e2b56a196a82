// Package main implements the semlink binary. It registers the configured
// endpoints with a connection manager, applies wiring rules from config and
// the NATS KV bucket, and serves the management gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/c360/semlink/config"
	"github.com/c360/semlink/errors"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semlink"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\n%s", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("semlink failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli := parseFlagSet(flag.CommandLine, args)
	switch {
	case cli.ShowVersion:
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildTime)
		return nil
	case cli.ShowHelp:
		printDetailedHelp(flag.CommandLine)
		return nil
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting semlink", "version", Version, "build_time", BuildTime, "config_path", cli.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger, cli)
}

// loadConfig reads the config file, if any, applies SEMLINK_* overrides and
// validates the result. Without a file the defaults are used.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)
	return loader.Load()
}

// serve runs the app until ctx ends, then gives close ShutdownTimeout.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, cli *CLIConfig) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	runErr := a.run(ctx)
	if runErr != nil {
		logger.Error("Run failed", "error", runErr)
	} else {
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cli.ShutdownTimeout)
	defer cancel()
	if err := a.close(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	logger.Info("semlink stopped")
	return runErr
}
