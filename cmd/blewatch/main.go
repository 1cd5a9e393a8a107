// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blewatch/blewatch/pkg/agent"
	"github.com/blewatch/blewatch/pkg/config"
	"github.com/blewatch/blewatch/pkg/scanner"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("blewatch %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Override log level from CLI
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("starting blewatch",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	a, err := agent.New(cfg, scanner.NewBluetoothRadio(logger), version, logger)
	if err != nil {
		logger.Error("failed to create agent", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Watchlist changes are not applied live; surface a restart notice.
	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(file string) {
			logger.Warn("configuration changed on disk; restart to apply",
				zap.String("file", file),
			)
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()

		select {
		case err := <-runDone:
			if err != nil {
				logger.Error("error during shutdown", zap.Error(err))
				return 1
			}
			logger.Info("blewatch stopped")
			return 0
		case <-time.After(30 * time.Second):
			logger.Error("shutdown timed out after 30s, forcing exit")
			return 1
		}

	case err := <-runDone:
		if err != nil {
			logger.Error("run ended with fatal error", zap.Error(err))
			return 1
		}
		logger.Info("blewatch stopped")
		return 0
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	defaults := []string{
		"configs/blewatch.yaml",
		"/etc/blewatch/blewatch.yaml",
		"/etc/blewatch.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	// No file anywhere: defaults, still subject to env overrides.
	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
