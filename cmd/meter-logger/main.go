package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/config"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 30 * time.Second
)

func main() {
	loadEnv()

	option, err := NewOptions(os.Args)
	if err != nil {
		fmt.Print(option.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	applyOverrides(cfg, option)

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	code := runCommand(option, cfg, logger, os.Stdout)
	logger.Sync()
	os.Exit(code)
}

// runCommand runs the selected command and returns the process exit code.
func runCommand(option *Options, cfg *config.Config, logger *zap.Logger, out io.Writer) int {
	var err error
	switch {
	case option.Start.Happened():
		return runStart(cfg, logger)
	case option.Database.Happened():
		err = runDatabase(cfg, logger, out)
	case option.Export.Happened():
		err = runExport(cfg, logger, out)
	case option.ListPorts.Happened():
		err = runListPorts(out)
	}
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		return 1
	}
	return 0
}

// loadEnv loads the first .env found in the working directory or up to two
// levels above it.
func loadEnv() {
	envPaths := []string{
		".env",
		"../../.env",
	}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		grandParentDir := filepath.Dir(parentDir)

		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(grandParentDir, ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				absPath, _ := filepath.Abs(envPath)
				fmt.Fprintf(os.Stderr, "Loaded environment from: %s\n", absPath)
				return
			}
		}
	}
}

func applyOverrides(cfg *config.Config, option *Options) {
	if option.Port != nil && *option.Port != "" {
		cfg.Serial.Port = *option.Port
	}
	if option.Verbose != nil && *option.Verbose {
		cfg.Verbose = true
	}
	if option.HTTPPort != nil && *option.HTTPPort > 0 {
		cfg.HTTP.Port = *option.HTTPPort
	}
}

// runStart runs the ingestion loop and HTTP surface until a signal arrives or
// the loop fails. It returns the process exit code.
func runStart(cfg *config.Config, logger *zap.Logger) int {
	if cfg.Serial.Port == "" {
		logger.Error("no serial port given, use --port or SERIAL_PORT")
		return 1
	}

	app := fx.New(startOptions(cfg, logger), fx.WithLogger(fxLogger))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting application...", zap.Duration("timeout", startTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			logger.Error("APPLICATION START TIMEOUT: failed to start within 30 seconds. A forwarder (RabbitMQ, MQTT or the mirror database) is probably not reachable.")
		}
		logger.Error("failed to start application", zap.Error(err))
		return 1
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case sig := <-app.Wait():
		exitCode = sig.ExitCode
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("error stopping app", zap.Error(err))
		if exitCode == 0 {
			exitCode = 1
		}
	}

	return exitCode
}
