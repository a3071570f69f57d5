package main

import (
	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/config"
	"github.com/septivank/sml-meter-logger/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	return logging.NewLogger(logging.Options{
		ServiceName: cfg.ServiceName,
		Level:       level,
		File:        cfg.LogFile,
	})
}
