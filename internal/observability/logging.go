// Package observability provides the process-wide loggers.
//
// CLI output is human-first: console encoding, no sampling, stderr only, so
// stdout stays clean for --json command output.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands and control loops. It defaults to
// info level and is replaced by Init once configuration is loaded.
var CLILogger = mustBuild("info")

// Init reconfigures CLILogger with the given level ("debug", "info", "warn",
// "error").
func Init(level string) error {
	logger, err := build(level)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// Sync flushes buffered log entries. Call on process exit.
func Sync() {
	_ = CLILogger.Sync()
}

func build(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	return cfg.Build()
}

func mustBuild(level string) *zap.Logger {
	logger, err := build(level)
	if err != nil {
		panic(err)
	}
	return logger
}
